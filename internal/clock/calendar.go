package clock

import "time"

// NYSE full-day closures. Dates are exchange-local calendar days.
var holidays = map[string]bool{
	// 2024
	"2024-01-01": true, // New Year's Day
	"2024-01-15": true, // Martin Luther King Jr. Day
	"2024-02-19": true, // Washington's Birthday
	"2024-03-29": true, // Good Friday
	"2024-05-27": true, // Memorial Day
	"2024-06-19": true, // Juneteenth
	"2024-07-04": true, // Independence Day
	"2024-09-02": true, // Labor Day
	"2024-11-28": true, // Thanksgiving
	"2024-12-25": true, // Christmas
	// 2025
	"2025-01-01": true,
	"2025-01-09": true, // National Day of Mourning
	"2025-01-20": true,
	"2025-02-17": true,
	"2025-04-18": true,
	"2025-05-26": true,
	"2025-06-19": true,
	"2025-07-04": true,
	"2025-09-01": true,
	"2025-11-27": true,
	"2025-12-25": true,
	// 2026
	"2026-01-01": true,
	"2026-01-19": true,
	"2026-02-16": true,
	"2026-04-03": true,
	"2026-05-25": true,
	"2026-06-19": true,
	"2026-07-03": true, // Independence Day observed
	"2026-09-07": true,
	"2026-11-26": true,
	"2026-12-25": true,
}

// 13:00 ET closes.
var earlyCloses = map[string]bool{
	"2024-07-03": true,
	"2024-11-29": true,
	"2024-12-24": true,
	"2025-07-03": true,
	"2025-11-28": true,
	"2025-12-24": true,
	"2026-11-27": true,
	"2026-12-24": true,
}

func isHoliday(t time.Time) bool {
	return holidays[t.Format("2006-01-02")]
}

func isEarlyClose(t time.Time) bool {
	return earlyCloses[t.Format("2006-01-02")]
}

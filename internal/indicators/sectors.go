package indicators

import "strings"

// MarketReferenceSymbol is the broad-market series relative strength is
// measured against.
const MarketReferenceSymbol = "SPY"

// sectorETFs maps the sector labels the data vendor returns to the SPDR
// sector ETF used as the sector reference series. Labels are matched
// case-insensitively on the vendor's wording.
var sectorETFs = map[string]string{
	"technology":             "XLK",
	"information technology": "XLK",
	"communication services": "XLC",
	"health care":            "XLV",
	"healthcare":             "XLV",
	"financials":             "XLF",
	"financial services":     "XLF",
	"energy":                 "XLE",
	"industrials":            "XLI",
	"materials":              "XLB",
	"basic materials":        "XLB",
	"consumer discretionary": "XLY",
	"consumer cyclical":      "XLY",
	"consumer staples":       "XLP",
	"consumer defensive":     "XLP",
	"utilities":              "XLU",
	"real estate":            "XLRE",
}

// SectorReferenceSymbol maps a vendor sector label to its reference ETF.
// Unknown or empty labels fall back to the market reference, which makes
// the sector leg of relative strength read as pure market strength.
func SectorReferenceSymbol(sector string) string {
	if etf, ok := sectorETFs[strings.ToLower(strings.TrimSpace(sector))]; ok {
		return etf
	}
	return MarketReferenceSymbol
}

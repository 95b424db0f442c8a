package sentiment

import "strings"

// Generic polarity lexicon. Sources that deliver pre-scored items bypass
// this entirely; it exists for plain-text feeds.
var (
	positiveWords = map[string]bool{
		"gain": true, "gains": true, "up": true, "surge": true, "surges": true,
		"rally": true, "rallies": true, "beat": true, "beats": true, "strong": true,
		"growth": true, "record": true, "upgrade": true, "upgraded": true,
		"bullish": true, "buy": true, "outperform": true, "profit": true,
		"positive": true, "soar": true, "soars": true, "jump": true, "jumps": true,
		"win": true, "wins": true, "approval": true, "approved": true,
	}
	negativeWords = map[string]bool{
		"loss": true, "losses": true, "down": true, "drop": true, "drops": true,
		"fall": true, "falls": true, "miss": true, "misses": true, "weak": true,
		"decline": true, "declines": true, "downgrade": true, "downgraded": true,
		"bearish": true, "sell": true, "underperform": true, "plunge": true,
		"plunges": true, "negative": true, "lawsuit": true, "investigation": true,
		"bankruptcy": true, "dilution": true, "recall": true, "halt": true,
	}

	// Domain adjustments: terms that move low-price momentum names more than
	// their dictionary polarity suggests. Each hit nudges the score by
	// domainAdjustment in its direction.
	domainBullish = map[string]bool{
		"squeeze": true, "breakout": true, "catalyst": true, "fda": true,
		"contract": true, "partnership": true, "accumulation": true,
	}
	domainBearish = map[string]bool{
		"offering": true, "delisting": true, "pump": true, "dump": true,
		"shorted": true, "overextended": true,
	}
)

const domainAdjustment = 0.1

// ScoreText scores free text in [-1, 1] with a confidence in [0, 1].
// Confidence grows with the number of polar terms found; text with no
// polar vocabulary scores neutral at zero confidence.
func ScoreText(text string) (score, confidence float64) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0, 0
	}

	var pos, neg, domain float64
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;()[]\"'$#")
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
		switch {
		case domainBullish[w]:
			domain += domainAdjustment
		case domainBearish[w]:
			domain -= domainAdjustment
		}
	}

	hits := pos + neg
	if hits == 0 && domain == 0 {
		return 0, 0
	}

	if hits > 0 {
		score = (pos - neg) / hits
	}
	score = clampScore(score + domain)

	confidence = hits / 5
	if domain != 0 && confidence < 0.3 {
		confidence = 0.3
	}
	if confidence > 1 {
		confidence = 1
	}
	return score, confidence
}

func clampScore(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

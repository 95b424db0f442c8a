package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/cache"
)

// MaxClientOrderIDLength is the broker's client_order_id limit.
const MaxClientOrderIDLength = 48

// FallbackMarker identifies ids generated while Redis was unavailable.
const FallbackMarker = "FB"

// TradeMode selects live or paper execution; it is encoded into every
// order id so journal rows are unambiguous across modes.
type TradeMode string

const (
	ModeLive  TradeMode = "live"
	ModePaper TradeMode = "paper"
)

var modeCodes = map[TradeMode]string{
	ModeLive:  "LIV",
	ModePaper: "PAP",
}

// OrderTag marks the intent behind an order.
type OrderTag string

const (
	TagEntry     OrderTag = "E"
	TagExit      OrderTag = "X"
	TagEmergency OrderTag = "EM"
)

var (
	ErrIDTooLong  = errors.New("client order ID exceeds maximum length")
	ErrInvalidTag = errors.New("invalid order tag")
)

// OrderIDGenerator produces structured idempotency keys.
// Format: [MODE]-[DDMMM]-[NNNNN]-[TAG], e.g. "PAP-16JUN-00042-E".
// Fallback format when Redis is down: [MODE]-FB-[8CHAR]-[TAG].
type OrderIDGenerator struct {
	cacheService *cache.CacheService
	mode         TradeMode
	loc          *time.Location
	log          zerolog.Logger
}

// NewOrderIDGenerator creates a generator. cacheService may be nil;
// every id then uses the fallback form.
func NewOrderIDGenerator(cacheService *cache.CacheService, mode TradeMode, loc *time.Location, logger zerolog.Logger) *OrderIDGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &OrderIDGenerator{cacheService: cacheService, mode: mode, loc: loc, log: logger}
}

// Generate creates a new idempotency key with an atomic daily sequence.
// Falls back to a random id when Redis is unavailable; an order is
// never blocked on the cache.
func (g *OrderIDGenerator) Generate(ctx context.Context, tag OrderTag) (string, error) {
	if err := validateTag(tag); err != nil {
		return "", err
	}

	now := time.Now().In(g.loc)
	dateStr := strings.ToUpper(now.Format("02Jan"))

	if g.cacheService != nil {
		seq, err := g.cacheService.IncrementOrderSequence(ctx, now.Format("20060102"))
		if err == nil {
			id := fmt.Sprintf("%s-%s-%05d-%s", g.modeCode(), dateStr, seq, tag)
			if len(id) > MaxClientOrderIDLength {
				return "", fmt.Errorf("%w: %q is %d characters", ErrIDTooLong, id, len(id))
			}
			return id, nil
		}
		g.log.Warn().Err(err).Msg("sequence unavailable, using fallback order id")
	}

	return g.generateFallback(tag), nil
}

func (g *OrderIDGenerator) generateFallback(tag OrderTag) string {
	return fmt.Sprintf("%s-%s-%s-%s", g.modeCode(), FallbackMarker, shortUniqueID(), tag)
}

func (g *OrderIDGenerator) modeCode() string {
	if code, ok := modeCodes[g.mode]; ok {
		return code
	}
	return "PAP"
}

// IsFallbackID reports whether id was generated without Redis.
func IsFallbackID(id string) bool {
	return strings.Contains(id, "-"+FallbackMarker+"-")
}

func validateTag(tag OrderTag) error {
	switch tag {
	case TagEntry, TagExit, TagEmergency:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
}

// shortUniqueID generates an 8-character hex identifier.
func shortUniqueID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

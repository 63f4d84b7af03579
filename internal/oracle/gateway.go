package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Validation failures. Every one of them aborts the enclosing protocol —
// financial operations must not proceed on uncertain price data.
var (
	ErrPriceInvalid      = errors.New("oracle price is not positive")
	ErrPriceStale        = errors.New("oracle price is stale")
	ErrOracleCompromised = errors.New("oracle answer does not match latest round")
)

// DefaultHeartbeat is the staleness window applied when none is configured.
const DefaultHeartbeat = 3600 * time.Second

// RoundData is the raw answer of one oracle round.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// PriceFeed is the external price oracle collaborator.
type PriceFeed interface {
	// Decimals returns the precision the feed's answers are expressed in.
	Decimals() uint8

	// LatestRoundData returns the most recent round.
	LatestRoundData() (RoundData, error)
}

// Gateway wraps a PriceFeed and validates freshness and sanity of a quote
// before it is trusted. There are no retries at this layer: a failed
// validation is surfaced immediately so the caller aborts whole.
type Gateway struct {
	heartbeat time.Duration
	now       func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(heartbeat time.Duration, opts ...Option) *Gateway {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	g := &Gateway{
		heartbeat: heartbeat,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidatedPrice fetches the latest round from the feed and returns the
// price and its decimal precision, or a typed validation error.
func (g *Gateway) ValidatedPrice(feed PriceFeed) (*big.Int, uint8, error) {
	round, err := feed.LatestRoundData()
	if err != nil {
		return nil, 0, fmt.Errorf("latest round data: %w", err)
	}

	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, 0, ErrPriceInvalid
	}

	if age := g.now().Sub(round.UpdatedAt); age > g.heartbeat {
		return nil, 0, fmt.Errorf("%w: updated %s ago (heartbeat %s)",
			ErrPriceStale, age.Truncate(time.Second), g.heartbeat)
	}

	if round.AnsweredInRound < round.RoundID {
		return nil, 0, fmt.Errorf("%w: answered_in_round=%d round_id=%d",
			ErrOracleCompromised, round.AnsweredInRound, round.RoundID)
	}

	return new(big.Int).Set(round.Answer), feed.Decimals(), nil
}

package oracle

import (
	"math/big"
	"sync"
	"time"
)

// StaticFeed is an in-process PriceFeed backed by a settable price.
// Used in dev mode and tests; production deployments plug in an adapter
// to a real oracle network.
type StaticFeed struct {
	mu       sync.Mutex
	decimals uint8
	round    RoundData
}

func NewStaticFeed(price *big.Int, decimals uint8, updatedAt time.Time) *StaticFeed {
	f := &StaticFeed{decimals: decimals}
	f.Set(price, updatedAt)
	return f
}

// Set publishes a new round with the given price.
func (f *StaticFeed) Set(price *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = RoundData{
		RoundID:         f.round.RoundID + 1,
		Answer:          new(big.Int).Set(price),
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: f.round.RoundID + 1,
	}
}

// SetRound publishes a raw round verbatim, for exercising validation paths.
func (f *StaticFeed) SetRound(round RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = round
}

func (f *StaticFeed) Decimals() uint8 {
	return f.decimals
}

func (f *StaticFeed) LatestRoundData() (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round := f.round
	if round.Answer != nil {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	return round, nil
}

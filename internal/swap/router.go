package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Router is the external swap/routing collaborator used by conversion
// withdrawals. Path is an ordered list of asset identifiers; the first
// element is the input asset, the last is the output asset.
type Router interface {
	// Quote returns the expected output for swapping amountIn along path.
	Quote(ctx context.Context, amountIn *big.Int, path []string) (*big.Int, error)

	// Swap executes the conversion, failing if the realized output would be
	// below minAmountOut or the deadline has passed.
	Swap(ctx context.Context, amountIn, minAmountOut *big.Int, path []string, recipient uuid.UUID, deadline time.Time) (*big.Int, error)
}

// StaticRouter converts along fixed pairwise rates, for dev mode and tests.
// Rates are expressed as numerator/denominator pairs per hop.
type StaticRouter struct {
	mu    sync.Mutex
	rates map[string]rate
}

type rate struct {
	num, den *big.Int
}

func NewStaticRouter() *StaticRouter {
	return &StaticRouter{rates: make(map[string]rate)}
}

// SetRate fixes the conversion rate for the from→to hop: out = in * num / den.
func (r *StaticRouter) SetRate(from, to string, num, den int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[from+"/"+to] = rate{num: big.NewInt(num), den: big.NewInt(den)}
}

func (r *StaticRouter) Quote(ctx context.Context, amountIn *big.Int, path []string) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quoteLocked(amountIn, path)
}

func (r *StaticRouter) quoteLocked(amountIn *big.Int, path []string) (*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("swap path must have at least two hops")
	}
	out := new(big.Int).Set(amountIn)
	for i := 0; i+1 < len(path); i++ {
		hop, ok := r.rates[path[i]+"/"+path[i+1]]
		if !ok {
			return nil, fmt.Errorf("no route for %s/%s", path[i], path[i+1])
		}
		out.Mul(out, hop.num)
		out.Quo(out, hop.den)
	}
	return out, nil
}

func (r *StaticRouter) Swap(ctx context.Context, amountIn, minAmountOut *big.Int, path []string, recipient uuid.UUID, deadline time.Time) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !deadline.IsZero() && time.Now().After(deadline) {
		return nil, fmt.Errorf("swap deadline passed")
	}

	out, err := r.quoteLocked(amountIn, path)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("output %s below minimum %s", out, minAmountOut)
	}
	return out, nil
}

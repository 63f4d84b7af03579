package asset

import (
	"errors"
	"fmt"
	"sync"

	"VaultLedger/internal/oracle"
)

// Native is the reserved identifier for the platform's base asset. It is
// implicitly registered and cannot be overwritten.
const Native = "NATIVE"

// NativeDecimals is the fixed precision of the native asset.
const NativeDecimals = 18

var (
	ErrNotRegistered  = errors.New("asset not registered")
	ErrDecimalsNotSet = errors.New("asset decimals not set")
	ErrFeedNotSet     = errors.New("asset price feed not set")
	ErrNativeReserved = errors.New("native asset is implicitly registered")
)

// Registration records a fungible token accepted by the vault: its native
// decimal precision and the oracle feed its deposits are valued against.
// Registrations are overwritten by re-registration and never deleted.
type Registration struct {
	Asset    string
	Decimals uint8
	FeedRef  string
	Feed     oracle.PriceFeed
}

// Registry is the authoritative asset registration table.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]Registration
}

// NewRegistry creates a registry seeded with the native asset registration.
func NewRegistry(nativeFeedRef string, nativeFeed oracle.PriceFeed) (*Registry, error) {
	if nativeFeed == nil {
		return nil, fmt.Errorf("native asset: %w", ErrFeedNotSet)
	}
	return &Registry{
		assets: map[string]Registration{
			Native: {
				Asset:    Native,
				Decimals: NativeDecimals,
				FeedRef:  nativeFeedRef,
				Feed:     nativeFeed,
			},
		},
	}, nil
}

// Register adds or overwrites a token registration.
func (r *Registry) Register(assetID string, decimals uint8, feedRef string, feed oracle.PriceFeed) error {
	if assetID == Native {
		return ErrNativeReserved
	}
	if assetID == "" {
		return fmt.Errorf("empty asset identifier")
	}
	if decimals == 0 {
		return fmt.Errorf("%s: %w", assetID, ErrDecimalsNotSet)
	}
	if feed == nil {
		return fmt.Errorf("%s: %w", assetID, ErrFeedNotSet)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[assetID] = Registration{
		Asset:    assetID,
		Decimals: decimals,
		FeedRef:  feedRef,
		Feed:     feed,
	}
	return nil
}

// Lookup returns the registration for an asset. A registration must exist
// before any deposit or withdrawal of that asset is accepted.
func (r *Registry) Lookup(assetID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.assets[assetID]
	if !ok {
		return Registration{}, fmt.Errorf("%s: %w", assetID, ErrNotRegistered)
	}
	if reg.Decimals == 0 {
		return Registration{}, fmt.Errorf("%s: %w", assetID, ErrDecimalsNotSet)
	}
	if reg.Feed == nil {
		return Registration{}, fmt.Errorf("%s: %w", assetID, ErrFeedNotSet)
	}
	return reg, nil
}

// List returns all registrations, for the query surface.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.assets))
	for _, reg := range r.assets {
		out = append(out, reg)
	}
	return out
}

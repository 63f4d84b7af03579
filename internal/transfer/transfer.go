package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Transferor is the external token-transfer collaborator. Both directions
// are fallible and a failure aborts the enclosing protocol.
//
// For the native asset, value arrives bundled with the request in the host
// environment, so TransferIn degrades to a confirmation; the implementation
// decides. Implementations must not call back into the vault: the ordering
// discipline (ledger mutation strictly before the external call) makes
// reentrancy unnecessary, and the vault holds its critical section across
// the transfer.
type Transferor interface {
	// TransferIn pulls amount of asset from the owner into the custody pool.
	TransferIn(ctx context.Context, owner uuid.UUID, assetID string, amount *big.Int) error

	// TransferOut pushes amount of asset from the custody pool to the recipient.
	TransferOut(ctx context.Context, recipient uuid.UUID, assetID string, amount *big.Int) error
}

// Movement records one completed transfer, for inspection.
type Movement struct {
	Inbound bool
	Party   uuid.UUID
	Asset   string
	Amount  *big.Int
}

// MemoryTransferor is an in-process Transferor tracking the custody pool
// per asset. Used in dev mode and tests; production deployments plug in a
// bridge to the real settlement rail.
type MemoryTransferor struct {
	mu        sync.Mutex
	pool      map[string]*big.Int
	movements []Movement

	// FailIn / FailOut force the next transfer in that direction to fail,
	// for exercising rollback paths.
	FailIn  bool
	FailOut bool
}

func NewMemoryTransferor() *MemoryTransferor {
	return &MemoryTransferor{pool: make(map[string]*big.Int)}
}

func (m *MemoryTransferor) TransferIn(ctx context.Context, owner uuid.UUID, assetID string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailIn {
		return fmt.Errorf("transfer-in rejected by asset bridge")
	}

	pool, ok := m.pool[assetID]
	if !ok {
		pool = new(big.Int)
		m.pool[assetID] = pool
	}
	pool.Add(pool, amount)
	m.movements = append(m.movements, Movement{
		Inbound: true, Party: owner, Asset: assetID, Amount: new(big.Int).Set(amount),
	})
	return nil
}

func (m *MemoryTransferor) TransferOut(ctx context.Context, recipient uuid.UUID, assetID string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailOut {
		return fmt.Errorf("transfer-out rejected by recipient")
	}

	pool, ok := m.pool[assetID]
	if !ok || pool.Cmp(amount) < 0 {
		return fmt.Errorf("custody pool for %s underfunded", assetID)
	}
	pool.Sub(pool, amount)
	m.movements = append(m.movements, Movement{
		Inbound: false, Party: recipient, Asset: assetID, Amount: new(big.Int).Set(amount),
	})
	return nil
}

// PoolBalance returns the custody pool balance for an asset.
func (m *MemoryTransferor) PoolBalance(assetID string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pool[assetID]; ok {
		return new(big.Int).Set(pool)
	}
	return new(big.Int)
}

// Movements returns a copy of the transfer history.
func (m *MemoryTransferor) Movements() []Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Movement, len(m.movements))
	copy(out, m.movements)
	return out
}

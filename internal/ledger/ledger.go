package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceKey identifies one (user, asset) balance row.
type BalanceKey struct {
	User  uuid.UUID
	Asset string
}

// Path returns the string representation for storage/logging.
func (k BalanceKey) Path() string {
	return fmt.Sprintf("user:%s:%s", k.User.String(), k.Asset)
}

// InsufficientBalanceError reports a debit exceeding the current balance.
// Current carries the balance at rejection time so clients can react
// without re-deriving state.
type InsufficientBalanceError struct {
	Key     BalanceKey
	Current *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: current=%s", e.Key.Path(), e.Current)
}

// Ledger is the authoritative store of per-(user, asset) balances plus the
// running global normalized total in USD-6 units.
//
// Balances are denominated in each asset's NATIVE precision; only the
// global total is normalized. The total reflects value at the time of each
// mutation, not current market price — re-valuing every row on every read
// would require unbounded oracle calls.
//
// The ledger carries no lock of its own: the orchestrator serializes all
// access inside its critical section, mirroring the run-to-completion
// execution model the accounting rules assume.
type Ledger struct {
	balances        map[BalanceKey]*big.Int
	totalNormalized int64
	deposits        uint64
	withdrawals     uint64
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[BalanceKey]*big.Int),
	}
}

// Balance returns a copy of the native balance for (user, asset).
// A missing row reads as zero.
func (l *Ledger) Balance(user uuid.UUID, assetID string) *big.Int {
	if b, ok := l.balances[BalanceKey{User: user, Asset: assetID}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalNormalized returns the global USD-6 total.
func (l *Ledger) TotalNormalized() int64 {
	return l.totalNormalized
}

// Counters returns the deposit and withdrawal counts (observability only).
func (l *Ledger) Counters() (deposits, withdrawals uint64) {
	return l.deposits, l.withdrawals
}

// Credit increases the user's native balance and the global total. It is
// the "effects" step of the deposit protocol: all preconditions (capacity,
// price validity) are checked by the caller, so Credit itself performs no
// fallible work.
func (l *Ledger) Credit(user uuid.UUID, assetID string, nativeAmount *big.Int, usdAmount int64) {
	key := BalanceKey{User: user, Asset: assetID}
	balance, ok := l.balances[key]
	if !ok {
		balance = new(big.Int)
		l.balances[key] = balance
	}
	balance.Add(balance, nativeAmount)
	l.totalNormalized += usdAmount
	l.deposits++
}

// Debit decreases the user's native balance and the global total. Fails
// with InsufficientBalanceError when the native amount exceeds the current
// balance; on failure nothing changes.
//
// The global total is floored at zero: valuation drift between the price
// at deposit time and the price at withdrawal time can overdraw the
// running total, and the total must never go negative. The returned value
// is the USD-6 amount actually subtracted, which the caller needs to
// revert the debit exactly if a later step fails.
func (l *Ledger) Debit(user uuid.UUID, assetID string, nativeAmount *big.Int, usdAmount int64) (int64, error) {
	key := BalanceKey{User: user, Asset: assetID}
	balance, ok := l.balances[key]
	if !ok || balance.Cmp(nativeAmount) < 0 {
		current := new(big.Int)
		if ok {
			current.Set(balance)
		}
		return 0, &InsufficientBalanceError{Key: key, Current: current}
	}

	balance.Sub(balance, nativeAmount)
	applied := usdAmount
	if applied > l.totalNormalized {
		applied = l.totalNormalized
	}
	l.totalNormalized -= applied
	l.withdrawals++
	return applied, nil
}

// RevertCredit unwinds a Credit whose follow-up transfer failed. Unlike
// Debit it does not count as a withdrawal: the protocol aborted, so the
// counters must read as if it never ran.
func (l *Ledger) RevertCredit(user uuid.UUID, assetID string, nativeAmount *big.Int, usdAmount int64) {
	key := BalanceKey{User: user, Asset: assetID}
	if balance, ok := l.balances[key]; ok {
		balance.Sub(balance, nativeAmount)
	}
	l.totalNormalized -= usdAmount
	l.deposits--
}

// RevertDebit unwinds a Debit whose follow-up transfer failed.
func (l *Ledger) RevertDebit(user uuid.UUID, assetID string, nativeAmount *big.Int, usdAmount int64) {
	key := BalanceKey{User: user, Asset: assetID}
	balance, ok := l.balances[key]
	if !ok {
		balance = new(big.Int)
		l.balances[key] = balance
	}
	balance.Add(balance, nativeAmount)
	l.totalNormalized += usdAmount
	l.withdrawals--
}

// Snapshot returns a copy of all balance rows.
func (l *Ledger) Snapshot() map[BalanceKey]*big.Int {
	snapshot := make(map[BalanceKey]*big.Int, len(l.balances))
	for k, v := range l.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

// ValidateNonNegative checks that a balance row is >= 0. Debit guards
// against underflow, so a violation here means corrupted state.
func (l *Ledger) ValidateNonNegative(user uuid.UUID, assetID string) error {
	key := BalanceKey{User: user, Asset: assetID}
	if b, ok := l.balances[key]; ok && b.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.Path(), b)
	}
	return nil
}

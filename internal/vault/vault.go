package vault

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/asset"
	"VaultLedger/internal/auth"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/record"
	"VaultLedger/internal/swap"
	"VaultLedger/internal/transfer"
)

// Config carries the vault's economic parameters.
type Config struct {
	// Ceiling is the maximum global normalized total, USD-6.
	Ceiling int64

	// WithdrawThreshold is the maximum USD-6 value of a single withdrawal.
	WithdrawThreshold int64

	// Heartbeat bounds acceptable oracle quote age.
	Heartbeat time.Duration

	// SlippageBps is the tolerated shortfall on conversion withdrawals,
	// in basis points of the quoted output.
	SlippageBps int64
}

func (c Config) Validate() error {
	if c.Ceiling <= 0 || c.WithdrawThreshold <= 0 {
		return ErrInvalidConfiguration
	}
	if c.WithdrawThreshold > c.Ceiling {
		return ErrInvalidConfiguration
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10_000 {
		return ErrInvalidConfiguration
	}
	return nil
}

// Deps wires the vault to its collaborators. Persist must be an unbuffered
// or bounded channel drained by the persistence worker; sends block so a
// committed record is never lost. Publish sends are best-effort and drop
// when the channel is full. Metrics may be nil (tests).
type Deps struct {
	Registry   *asset.Registry
	Gateway    *oracle.Gateway
	Ledger     *ledger.Ledger
	Transferor transfer.Transferor
	Authorizer auth.Authorizer
	Router     swap.Router

	Persist chan<- record.Record
	Publish chan<- record.Record

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Vault is the transaction orchestrator. Every deposit and withdrawal runs
// validate, compute, mutate, transfer in that order inside one critical
// section, so concurrent requests observe the ledger as if protocols ran
// one at a time.
//
// The external transfer executes while the lock is held: releasing it
// between mutate and transfer would let a second protocol read balances
// that the pending transfer might still unwind. Transferor implementations
// must not call back into the vault.
type Vault struct {
	mu        sync.Mutex
	ceiling   int64
	threshold int64
	slippage  int64
	paused    bool
	seq       int64

	registry   *asset.Registry
	gateway    *oracle.Gateway
	ledger     *ledger.Ledger
	transferor transfer.Transferor
	authorizer auth.Authorizer
	router     swap.Router

	persistCh chan<- record.Record
	publishCh chan<- record.Record

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(cfg Config, deps Deps) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Gateway == nil || deps.Ledger == nil ||
		deps.Transferor == nil || deps.Authorizer == nil {
		return nil, ErrInvalidConfiguration
	}

	v := &Vault{
		ceiling:    cfg.Ceiling,
		threshold:  cfg.WithdrawThreshold,
		slippage:   cfg.SlippageBps,
		registry:   deps.Registry,
		gateway:    deps.Gateway,
		ledger:     deps.Ledger,
		transferor: deps.Transferor,
		authorizer: deps.Authorizer,
		router:     deps.Router,
		persistCh:  deps.Persist,
		publishCh:  deps.Publish,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if v.metrics != nil {
		v.metrics.SetCapacityMetrics(deps.Ledger.TotalNormalized(), cfg.Ceiling)
	}
	return v, nil
}

// Deposit accepts native-precision funds into the vault. The amount is
// valued at the current validated oracle price and the resulting USD-6
// value is charged against the capacity ceiling. Returns the normalized
// value credited.
func (v *Vault) Deposit(ctx context.Context, user uuid.UUID, assetID string, amount *big.Int) (int64, error) {
	start := time.Now()

	if amount == nil || amount.Sign() <= 0 {
		v.reject("deposit", ErrZeroAmount)
		return 0, ErrZeroAmount
	}

	reg, err := v.registry.Lookup(assetID)
	if err != nil {
		v.reject("deposit", err)
		return 0, err
	}

	price, priceDecimals, err := v.gateway.ValidatedPrice(reg.Feed)
	if err != nil {
		v.rejectOracle("deposit", err)
		return 0, err
	}

	usdAmount, err := math.ToLedgerUnits(amount, reg.Decimals, price, priceDecimals)
	if err != nil {
		v.reject("deposit", err)
		return 0, err
	}

	v.mu.Lock()
	if v.paused {
		v.mu.Unlock()
		v.reject("deposit", ErrPaused)
		return 0, ErrPaused
	}
	if err := checkCapacity(v.ledger.TotalNormalized(), usdAmount, v.ceiling); err != nil {
		v.mu.Unlock()
		v.reject("deposit", err)
		return 0, err
	}

	v.ledger.Credit(user, assetID, amount, usdAmount)

	if err := v.transferor.TransferIn(ctx, user, assetID, amount); err != nil {
		v.ledger.RevertCredit(user, assetID, amount, usdAmount)
		v.mu.Unlock()
		terr := &TransferFailedError{Op: "inbound", Err: err}
		v.reject("deposit", terr)
		return 0, terr
	}

	rec := v.newRecordLocked(record.TypeDeposit)
	rec.User = user
	rec.Asset = assetID
	rec.NativeAmount = amount.String()
	rec.USDAmount = usdAmount
	total := v.ledger.TotalNormalized()
	ceiling := v.ceiling
	v.mu.Unlock()

	v.emit(rec)
	if v.metrics != nil {
		v.metrics.DepositsApplied.WithLabelValues(assetID).Inc()
		v.metrics.ProtocolDuration.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
		v.metrics.SetCapacityMetrics(total, ceiling)
	}
	v.logger.Info().
		Str("user", user.String()).
		Str("asset", assetID).
		Str("native_amount", amount.String()).
		Int64("usd_amount", usdAmount).
		Int64("total", total).
		Msg("deposit applied")

	return usdAmount, nil
}

// Withdraw releases funds to the user. The request is denominated in USD-6;
// the native payout is derived from the current validated price with floor
// truncation. A request whose payout truncates to zero native units is
// rejected rather than silently burning value.
func (v *Vault) Withdraw(ctx context.Context, user uuid.UUID, assetID string, usdAmount int64) (*big.Int, error) {
	start := time.Now()

	if usdAmount <= 0 {
		v.reject("withdraw", ErrZeroAmount)
		return nil, ErrZeroAmount
	}
	if usdAmount > v.Threshold() {
		err := &WithdrawalLimitError{Requested: usdAmount, Threshold: v.Threshold()}
		v.reject("withdraw", err)
		return nil, err
	}

	reg, err := v.registry.Lookup(assetID)
	if err != nil {
		v.reject("withdraw", err)
		return nil, err
	}

	price, priceDecimals, err := v.gateway.ValidatedPrice(reg.Feed)
	if err != nil {
		v.rejectOracle("withdraw", err)
		return nil, err
	}

	nativeAmount, err := math.FromLedgerUnits(usdAmount, reg.Decimals, price, priceDecimals)
	if err != nil {
		v.reject("withdraw", err)
		return nil, err
	}
	if nativeAmount.Sign() == 0 {
		v.reject("withdraw", ErrZeroAmount)
		return nil, ErrZeroAmount
	}

	v.mu.Lock()
	if v.paused {
		v.mu.Unlock()
		v.reject("withdraw", ErrPaused)
		return nil, ErrPaused
	}

	applied, err := v.ledger.Debit(user, assetID, nativeAmount, usdAmount)
	if err != nil {
		v.mu.Unlock()
		v.reject("withdraw", err)
		return nil, err
	}

	if err := v.transferor.TransferOut(ctx, user, assetID, nativeAmount); err != nil {
		v.ledger.RevertDebit(user, assetID, nativeAmount, applied)
		v.mu.Unlock()
		terr := &TransferFailedError{Op: "outbound", Err: err}
		v.reject("withdraw", terr)
		return nil, terr
	}

	rec := v.newRecordLocked(record.TypeWithdrawal)
	rec.User = user
	rec.Asset = assetID
	rec.NativeAmount = nativeAmount.String()
	rec.USDAmount = usdAmount
	total := v.ledger.TotalNormalized()
	ceiling := v.ceiling
	v.mu.Unlock()

	v.emit(rec)
	if v.metrics != nil {
		v.metrics.WithdrawalsApplied.WithLabelValues(assetID).Inc()
		v.metrics.ProtocolDuration.WithLabelValues("withdraw").Observe(time.Since(start).Seconds())
		v.metrics.SetCapacityMetrics(total, ceiling)
	}
	v.logger.Info().
		Str("user", user.String()).
		Str("asset", assetID).
		Str("native_amount", nativeAmount.String()).
		Int64("usd_amount", usdAmount).
		Int64("total", total).
		Msg("withdrawal applied")

	return nativeAmount, nil
}

// SwapWithdraw withdraws usdAmount worth of path[0] and converts it along
// path before delivery, so the user receives the final asset in the path.
// The quoted output less the slippage tolerance is enforced as the swap's
// minimum. Debited funds are restored if the swap fails.
func (v *Vault) SwapWithdraw(ctx context.Context, user uuid.UUID, usdAmount int64, path []string) (*big.Int, error) {
	start := time.Now()

	if v.router == nil {
		v.reject("swap_withdraw", ErrInvalidConfiguration)
		return nil, ErrInvalidConfiguration
	}
	if len(path) < 2 {
		v.reject("swap_withdraw", ErrInvalidConfiguration)
		return nil, ErrInvalidConfiguration
	}
	if usdAmount <= 0 {
		v.reject("swap_withdraw", ErrZeroAmount)
		return nil, ErrZeroAmount
	}
	if usdAmount > v.Threshold() {
		err := &WithdrawalLimitError{Requested: usdAmount, Threshold: v.Threshold()}
		v.reject("swap_withdraw", err)
		return nil, err
	}

	assetID := path[0]
	reg, err := v.registry.Lookup(assetID)
	if err != nil {
		v.reject("swap_withdraw", err)
		return nil, err
	}

	price, priceDecimals, err := v.gateway.ValidatedPrice(reg.Feed)
	if err != nil {
		v.rejectOracle("swap_withdraw", err)
		return nil, err
	}

	nativeAmount, err := math.FromLedgerUnits(usdAmount, reg.Decimals, price, priceDecimals)
	if err != nil {
		v.reject("swap_withdraw", err)
		return nil, err
	}
	if nativeAmount.Sign() == 0 {
		v.reject("swap_withdraw", ErrZeroAmount)
		return nil, ErrZeroAmount
	}

	v.mu.Lock()
	if v.paused {
		v.mu.Unlock()
		v.reject("swap_withdraw", ErrPaused)
		return nil, ErrPaused
	}

	quote, err := v.router.Quote(ctx, nativeAmount, path)
	if err != nil {
		v.mu.Unlock()
		v.reject("swap_withdraw", err)
		return nil, err
	}
	minOut := new(big.Int).Mul(quote, big.NewInt(10_000-v.slippage))
	minOut.Quo(minOut, big.NewInt(10_000))

	applied, err := v.ledger.Debit(user, assetID, nativeAmount, usdAmount)
	if err != nil {
		v.mu.Unlock()
		v.reject("swap_withdraw", err)
		return nil, err
	}

	deadline := time.Now().Add(time.Minute)
	amountOut, err := v.router.Swap(ctx, nativeAmount, minOut, path, user, deadline)
	if err != nil {
		v.ledger.RevertDebit(user, assetID, nativeAmount, applied)
		v.mu.Unlock()
		terr := &TransferFailedError{Op: "swap", Err: err}
		v.reject("swap_withdraw", terr)
		return nil, terr
	}

	rec := v.newRecordLocked(record.TypeSwapWithdrawal)
	rec.User = user
	rec.Asset = assetID
	rec.NativeAmount = nativeAmount.String()
	rec.USDAmount = usdAmount
	rec.SwapPath = append([]string(nil), path...)
	rec.AmountOut = amountOut.String()
	total := v.ledger.TotalNormalized()
	ceiling := v.ceiling
	v.mu.Unlock()

	v.emit(rec)
	if v.metrics != nil {
		v.metrics.WithdrawalsApplied.WithLabelValues(assetID).Inc()
		v.metrics.ProtocolDuration.WithLabelValues("swap_withdraw").Observe(time.Since(start).Seconds())
		v.metrics.SetCapacityMetrics(total, ceiling)
	}
	v.logger.Info().
		Str("user", user.String()).
		Strs("path", path).
		Str("native_amount", nativeAmount.String()).
		Str("amount_out", amountOut.String()).
		Int64("usd_amount", usdAmount).
		Msg("swap withdrawal applied")

	return amountOut, nil
}

// RegisterAsset registers a token for deposits. Admin only.
func (v *Vault) RegisterAsset(caller, assetID string, decimals uint8, feedRef string, feed oracle.PriceFeed) error {
	if !v.authorizer.HasRole(auth.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if err := v.registry.Register(assetID, decimals, feedRef, feed); err != nil {
		return err
	}

	v.mu.Lock()
	rec := v.newRecordLocked(record.TypeRegistration)
	rec.Asset = assetID
	rec.Decimals = decimals
	rec.FeedRef = feedRef
	rec.Caller = caller
	v.mu.Unlock()

	v.emit(rec)
	v.logger.Info().Str("asset", assetID).Uint8("decimals", decimals).
		Str("feed_ref", feedRef).Str("caller", caller).Msg("asset registered")
	return nil
}

// SetCapacity replaces the capacity ceiling. Admin only. Lowering the
// ceiling below the current total is allowed; it blocks further deposits
// until withdrawals bring the total back under.
func (v *Vault) SetCapacity(caller string, ceiling int64) error {
	if !v.authorizer.HasRole(auth.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if ceiling <= 0 {
		return ErrInvalidConfiguration
	}

	v.mu.Lock()
	if v.threshold > ceiling {
		v.mu.Unlock()
		return ErrInvalidConfiguration
	}
	v.ceiling = ceiling
	rec := v.newRecordLocked(record.TypeCapacityUpdate)
	rec.Ceiling = ceiling
	rec.Caller = caller
	total := v.ledger.TotalNormalized()
	v.mu.Unlock()

	v.emit(rec)
	if v.metrics != nil {
		v.metrics.SetCapacityMetrics(total, ceiling)
	}
	v.logger.Info().Int64("ceiling", ceiling).Str("caller", caller).Msg("capacity updated")
	return nil
}

// Pause halts deposits and withdrawals. Pauser role.
func (v *Vault) Pause(caller string) error {
	return v.setPaused(caller, true)
}

// Resume lifts a pause. Pauser role.
func (v *Vault) Resume(caller string) error {
	return v.setPaused(caller, false)
}

func (v *Vault) setPaused(caller string, paused bool) error {
	if !v.authorizer.HasRole(auth.RolePauser, caller) {
		return ErrUnauthorized
	}

	v.mu.Lock()
	if v.paused == paused {
		v.mu.Unlock()
		return nil
	}
	v.paused = paused
	typ := record.TypePause
	if !paused {
		typ = record.TypeResume
	}
	rec := v.newRecordLocked(typ)
	rec.Caller = caller
	v.mu.Unlock()

	v.emit(rec)
	v.logger.Warn().Bool("paused", paused).Str("caller", caller).Msg("pause state changed")
	return nil
}

// RescueFunds moves assets held by the vault but not owed to any user
// (airdrops, mistaken direct transfers) to a recipient. Treasurer role.
// The ledger is untouched: rescued funds were never a balance.
func (v *Vault) RescueFunds(ctx context.Context, caller string, recipient uuid.UUID, assetID string, amount *big.Int) error {
	if !v.authorizer.HasRole(auth.RoleTreasurer, caller) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	v.mu.Lock()
	if err := v.transferor.TransferOut(ctx, recipient, assetID, amount); err != nil {
		v.mu.Unlock()
		return &TransferFailedError{Op: "rescue", Err: err}
	}
	rec := v.newRecordLocked(record.TypeRescue)
	rec.User = recipient
	rec.Asset = assetID
	rec.NativeAmount = amount.String()
	rec.Caller = caller
	v.mu.Unlock()

	v.emit(rec)
	v.logger.Warn().Str("asset", assetID).Str("amount", amount.String()).
		Str("recipient", recipient.String()).Str("caller", caller).Msg("funds rescued")
	return nil
}

// --- Queries ---

func (v *Vault) Balance(user uuid.UUID, assetID string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ledger.Balance(user, assetID)
}

func (v *Vault) TotalNormalized() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ledger.TotalNormalized()
}

func (v *Vault) Ceiling() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ceiling
}

func (v *Vault) Threshold() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.threshold
}

func (v *Vault) Counters() (deposits, withdrawals uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ledger.Counters()
}

func (v *Vault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Assets lists current registrations.
func (v *Vault) Assets() []asset.Registration {
	return v.registry.List()
}

// --- Internals ---

// newRecordLocked assigns the next sequence number. Caller holds v.mu.
func (v *Vault) newRecordLocked(typ record.Type) record.Record {
	v.seq++
	return record.Record{
		RecordID:  uuid.New(),
		Sequence:  v.seq,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// emit delivers a committed record: blocking to the persistence channel,
// best-effort to the publish channel. Called outside the critical section
// so a slow writer stalls record delivery, not the ledger.
func (v *Vault) emit(rec record.Record) {
	if v.persistCh != nil {
		v.persistCh <- rec
	}
	if v.publishCh != nil {
		select {
		case v.publishCh <- rec:
		default:
			if v.metrics != nil {
				v.metrics.PublishDrops.Inc()
			}
			v.logger.Warn().Int64("sequence", rec.Sequence).Msg("publish channel full, record dropped")
		}
	}
}

func (v *Vault) reject(op string, err error) {
	if v.metrics == nil {
		return
	}
	v.metrics.ProtocolsRejected.WithLabelValues(op, rejectReason(err)).Inc()
}

func (v *Vault) rejectOracle(op string, err error) {
	if v.metrics != nil {
		v.metrics.OracleRejections.WithLabelValues(rejectReason(err)).Inc()
	}
	v.reject(op, err)
}

func rejectReason(err error) string {
	var capErr *CapacityExceededError
	var limErr *WithdrawalLimitError
	var balErr *ledger.InsufficientBalanceError
	var trErr *TransferFailedError
	switch {
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, asset.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, oracle.ErrPriceStale):
		return "price_stale"
	case errors.Is(err, oracle.ErrPriceInvalid):
		return "price_invalid"
	case errors.Is(err, oracle.ErrOracleCompromised):
		return "oracle_compromised"
	case errors.Is(err, math.ErrArithmeticOverflow):
		return "overflow"
	case errors.As(err, &capErr):
		return "capacity_exceeded"
	case errors.As(err, &limErr):
		return "over_threshold"
	case errors.As(err, &balErr):
		return "insufficient_balance"
	case errors.As(err, &trErr):
		return "transfer_failed"
	default:
		return "other"
	}
}

package vault_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/asset"
	"VaultLedger/internal/auth"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/record"
	"VaultLedger/internal/swap"
	"VaultLedger/internal/transfer"
	"VaultLedger/internal/vault"
)

// Native is valued at 2000 USD (8-decimal feed) in all fixtures.
var nativePrice = big.NewInt(2000_00000000)

// oneNative is 1.0 of the 18-decimal native asset.
var oneNative, _ = new(big.Int).SetString("1000000000000000000", 10)

type fixture struct {
	vault      *vault.Vault
	transferor *transfer.MemoryTransferor
	router     *swap.StaticRouter
	nativeFeed *oracle.StaticFeed
	registry   *asset.Registry
	persist    chan record.Record
	publish    chan record.Record
}

func defaultConfig() vault.Config {
	return vault.Config{
		Ceiling:           10_000_000000, // 10k USD
		WithdrawThreshold: 2_000_000000,  // 2k USD
		Heartbeat:         time.Hour,
		SlippageBps:       50,
	}
}

func newFixture(t *testing.T, cfg vault.Config) *fixture {
	t.Helper()

	nativeFeed := oracle.NewStaticFeed(nativePrice, 8, time.Now())
	registry, err := asset.NewRegistry("dev:native-usd", nativeFeed)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}

	f := &fixture{
		transferor: transfer.NewMemoryTransferor(),
		router:     swap.NewStaticRouter(),
		nativeFeed: nativeFeed,
		registry:   registry,
		persist:    make(chan record.Record, 32),
		publish:    make(chan record.Record, 32),
	}

	authorizer := auth.NewStaticAuthorizer().
		Grant(auth.RoleAdmin, "admin").
		Grant(auth.RolePauser, "pauser").
		Grant(auth.RoleTreasurer, "treasurer")

	f.vault, err = vault.New(cfg, vault.Deps{
		Registry:   registry,
		Gateway:    oracle.NewGateway(cfg.Heartbeat),
		Ledger:     ledger.New(),
		Transferor: f.transferor,
		Authorizer: authorizer,
		Router:     f.router,
		Persist:    f.persist,
		Publish:    f.publish,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return f
}

func (f *fixture) nextRecord(t *testing.T) record.Record {
	t.Helper()
	select {
	case rec := <-f.persist:
		return rec
	default:
		t.Fatal("no record on persist channel")
		return record.Record{}
	}
}

func (f *fixture) assertNoRecord(t *testing.T) {
	t.Helper()
	select {
	case rec := <-f.persist:
		t.Fatalf("unexpected record emitted: %s seq=%d", rec.Type, rec.Sequence)
	default:
	}
}

// ============================================================================
// Test: Deposit
// ============================================================================

func TestDeposit_CreditsBalanceAndTotal(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	usd, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if usd != 2000_000000 {
		t.Errorf("normalized value: got %d, want 2000000000", usd)
	}
	if b := f.vault.Balance(user, asset.Native); b.Cmp(oneNative) != 0 {
		t.Errorf("balance: got %s, want %s", b, oneNative)
	}
	if total := f.vault.TotalNormalized(); total != 2000_000000 {
		t.Errorf("total: got %d, want 2000000000", total)
	}
	if pool := f.transferor.PoolBalance(asset.Native); pool.Cmp(oneNative) != 0 {
		t.Errorf("custody pool: got %s, want %s", pool, oneNative)
	}

	rec := f.nextRecord(t)
	if rec.Type != record.TypeDeposit {
		t.Errorf("record type: got %s, want Deposit", rec.Type)
	}
	if rec.USDAmount != 2000_000000 {
		t.Errorf("record usd amount: got %d, want 2000000000", rec.USDAmount)
	}
}

func TestDeposit_ZeroAmountRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())

	if _, err := f.vault.Deposit(context.Background(), uuid.New(), asset.Native, big.NewInt(0)); !errors.Is(err, vault.ErrZeroAmount) {
		t.Errorf("zero: got %v, want ErrZeroAmount", err)
	}
	if _, err := f.vault.Deposit(context.Background(), uuid.New(), asset.Native, nil); !errors.Is(err, vault.ErrZeroAmount) {
		t.Errorf("nil: got %v, want ErrZeroAmount", err)
	}
}

func TestDeposit_UnregisteredAssetRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.vault.Deposit(context.Background(), uuid.New(), "DOGE", big.NewInt(100))
	if !errors.Is(err, asset.ErrNotRegistered) {
		t.Errorf("got %v, want ErrNotRegistered", err)
	}
}

func TestDeposit_CapacityExceeded(t *testing.T) {
	cfg := defaultConfig()
	cfg.Ceiling = 3_000_000000 // 3k USD
	f := newFixture(t, cfg)
	user := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	f.nextRecord(t)

	_, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative)
	var capErr *vault.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("got %v, want CapacityExceededError", err)
	}
	if capErr.Available != 1_000_000000 {
		t.Errorf("available: got %d, want 1000000000", capErr.Available)
	}

	// The rejected deposit must leave no trace.
	if b := f.vault.Balance(user, asset.Native); b.Cmp(oneNative) != 0 {
		t.Errorf("balance changed on rejected deposit: %s", b)
	}
	if deposits, _ := f.vault.Counters(); deposits != 1 {
		t.Errorf("deposit counter: got %d, want 1", deposits)
	}
	f.assertNoRecord(t)
}

func TestDeposit_StalePriceRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.nativeFeed.Set(nativePrice, time.Now().Add(-2*time.Hour))

	_, err := f.vault.Deposit(context.Background(), uuid.New(), asset.Native, oneNative)
	if !errors.Is(err, oracle.ErrPriceStale) {
		t.Errorf("got %v, want ErrPriceStale", err)
	}
}

func TestDeposit_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.transferor.FailIn = true
	user := uuid.New()

	_, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative)
	var trErr *vault.TransferFailedError
	if !errors.As(err, &trErr) {
		t.Fatalf("got %v, want TransferFailedError", err)
	}

	if b := f.vault.Balance(user, asset.Native); b.Sign() != 0 {
		t.Errorf("balance after rollback: got %s, want 0", b)
	}
	if total := f.vault.TotalNormalized(); total != 0 {
		t.Errorf("total after rollback: got %d, want 0", total)
	}
	if deposits, withdrawals := f.vault.Counters(); deposits != 0 || withdrawals != 0 {
		t.Errorf("counters after rollback: got (%d, %d), want (0, 0)", deposits, withdrawals)
	}
	f.assertNoRecord(t)
}

// ============================================================================
// Test: Withdraw
// ============================================================================

func TestWithdraw_ReleasesNativeAmount(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	// 500 USD at 2000 USD/native = 0.25 native.
	native, err := f.vault.Withdraw(context.Background(), user, asset.Native, 500_000000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	want, _ := new(big.Int).SetString("250000000000000000", 10)
	if native.Cmp(want) != 0 {
		t.Errorf("native payout: got %s, want %s", native, want)
	}
	if total := f.vault.TotalNormalized(); total != 1500_000000 {
		t.Errorf("total: got %d, want 1500000000", total)
	}

	rec := f.nextRecord(t)
	if rec.Type != record.TypeWithdrawal {
		t.Errorf("record type: got %s, want Withdrawal", rec.Type)
	}
}

func TestWithdraw_OverThresholdRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	_, err := f.vault.Withdraw(context.Background(), user, asset.Native, 2_000_000001)
	var limErr *vault.WithdrawalLimitError
	if !errors.As(err, &limErr) {
		t.Fatalf("got %v, want WithdrawalLimitError", err)
	}
	if limErr.Threshold != 2_000_000000 {
		t.Errorf("threshold in error: got %d, want 2000000000", limErr.Threshold)
	}
}

func TestWithdraw_InsufficientBalanceRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.vault.Withdraw(context.Background(), uuid.New(), asset.Native, 100_000000)
	var balErr *ledger.InsufficientBalanceError
	if !errors.As(err, &balErr) {
		t.Errorf("got %v, want InsufficientBalanceError", err)
	}
}

func TestWithdraw_ZeroNativePayoutRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())

	// 1-decimal asset at 30 USD: one USD-6 unit converts to 0 native units.
	gemFeed := oracle.NewStaticFeed(big.NewInt(30_00000000), 8, time.Now())
	if err := f.vault.RegisterAsset("admin", "GEM", 1, "dev:gem-usd", gemFeed); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.nextRecord(t)

	user := uuid.New()
	if _, err := f.vault.Deposit(context.Background(), user, "GEM", big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	if _, err := f.vault.Withdraw(context.Background(), user, "GEM", 1); !errors.Is(err, vault.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
}

func TestWithdraw_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	f.transferor.FailOut = true
	_, err := f.vault.Withdraw(context.Background(), user, asset.Native, 500_000000)
	var trErr *vault.TransferFailedError
	if !errors.As(err, &trErr) {
		t.Fatalf("got %v, want TransferFailedError", err)
	}

	if b := f.vault.Balance(user, asset.Native); b.Cmp(oneNative) != 0 {
		t.Errorf("balance after rollback: got %s, want %s", b, oneNative)
	}
	if total := f.vault.TotalNormalized(); total != 2000_000000 {
		t.Errorf("total after rollback: got %d, want 2000000000", total)
	}
	if _, withdrawals := f.vault.Counters(); withdrawals != 0 {
		t.Errorf("withdrawal counter after rollback: got %d, want 0", withdrawals)
	}
	f.assertNoRecord(t)
}

// ============================================================================
// Test: SwapWithdraw
// ============================================================================

func TestSwapWithdraw_ConvertsAlongPath(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	// 1 native = 2000 USDC (6 decimals): 5e17 in, 1e9 out.
	f.router.SetRate(asset.Native, "USDC", 2, 1_000_000_000)

	out, err := f.vault.SwapWithdraw(context.Background(), user, 1_000_000000, []string{asset.Native, "USDC"})
	if err != nil {
		t.Fatalf("swap withdraw: %v", err)
	}
	if out.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Errorf("amount out: got %s, want 1000000000", out)
	}

	// Half the native balance was spent.
	half, _ := new(big.Int).SetString("500000000000000000", 10)
	if b := f.vault.Balance(user, asset.Native); b.Cmp(half) != 0 {
		t.Errorf("balance: got %s, want %s", b, half)
	}

	rec := f.nextRecord(t)
	if rec.Type != record.TypeSwapWithdrawal {
		t.Errorf("record type: got %s, want SwapWithdrawal", rec.Type)
	}
	if rec.AmountOut != "1000000000" {
		t.Errorf("record amount out: got %q, want 1000000000", rec.AmountOut)
	}
}

// failingRouter quotes fine but fails the swap, to exercise the rollback.
type failingRouter struct {
	quote *big.Int
}

func (r *failingRouter) Quote(ctx context.Context, amountIn *big.Int, path []string) (*big.Int, error) {
	return new(big.Int).Set(r.quote), nil
}

func (r *failingRouter) Swap(ctx context.Context, amountIn, minAmountOut *big.Int, path []string, recipient uuid.UUID, deadline time.Time) (*big.Int, error) {
	return nil, errors.New("pool reverted")
}

func TestSwapWithdraw_SwapFailureRollsBack(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	cfg := defaultConfig()
	v, err := vault.New(cfg, vault.Deps{
		Registry:   f.registry,
		Gateway:    oracle.NewGateway(cfg.Heartbeat),
		Ledger:     ledger.New(),
		Transferor: f.transferor,
		Authorizer: auth.NewStaticAuthorizer(),
		Router:     &failingRouter{quote: big.NewInt(1_000_000_000)},
		Persist:    f.persist,
		Publish:    f.publish,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}

	if _, err := v.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	_, err = v.SwapWithdraw(context.Background(), user, 1_000_000000, []string{asset.Native, "USDC"})
	var trErr *vault.TransferFailedError
	if !errors.As(err, &trErr) {
		t.Fatalf("got %v, want TransferFailedError", err)
	}

	if b := v.Balance(user, asset.Native); b.Cmp(oneNative) != 0 {
		t.Errorf("balance after rollback: got %s, want %s", b, oneNative)
	}
	if total := v.TotalNormalized(); total != 2000_000000 {
		t.Errorf("total after rollback: got %d, want 2000000000", total)
	}
	f.assertNoRecord(t)
}

func TestSwapWithdraw_ShortPathRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.vault.SwapWithdraw(context.Background(), uuid.New(), 1_000000, []string{asset.Native})
	if !errors.Is(err, vault.ErrInvalidConfiguration) {
		t.Errorf("got %v, want ErrInvalidConfiguration", err)
	}
}

// ============================================================================
// Test: Admin operations
// ============================================================================

func TestRegisterAsset_RequiresAdmin(t *testing.T) {
	f := newFixture(t, defaultConfig())
	feed := oracle.NewStaticFeed(big.NewInt(1_00000000), 8, time.Now())

	if err := f.vault.RegisterAsset("rando", "USDC", 6, "dev:usdc-usd", feed); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRegisterAsset_EnablesDeposits(t *testing.T) {
	f := newFixture(t, defaultConfig())
	feed := oracle.NewStaticFeed(big.NewInt(1_00000000), 8, time.Now())

	if err := f.vault.RegisterAsset("admin", "USDC", 6, "dev:usdc-usd", feed); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := f.nextRecord(t)
	if rec.Type != record.TypeRegistration {
		t.Errorf("record type: got %s, want Registration", rec.Type)
	}

	// 100 USDC (6 decimals) at 1 USD = 100 USD-6.
	usd, err := f.vault.Deposit(context.Background(), uuid.New(), "USDC", big.NewInt(100_000000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if usd != 100_000000 {
		t.Errorf("normalized value: got %d, want 100000000", usd)
	}
}

func TestSetCapacity(t *testing.T) {
	f := newFixture(t, defaultConfig())

	if err := f.vault.SetCapacity("rando", 5_000_000000); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}

	if err := f.vault.SetCapacity("admin", 5_000_000000); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if c := f.vault.Ceiling(); c != 5_000_000000 {
		t.Errorf("ceiling: got %d, want 5000000000", c)
	}
	rec := f.nextRecord(t)
	if rec.Type != record.TypeCapacityUpdate || rec.Ceiling != 5_000_000000 {
		t.Errorf("record: got %s ceiling=%d", rec.Type, rec.Ceiling)
	}

	// Cannot drop the ceiling below the per-withdrawal threshold.
	if err := f.vault.SetCapacity("admin", 1_000_000000); !errors.Is(err, vault.ErrInvalidConfiguration) {
		t.Errorf("got %v, want ErrInvalidConfiguration", err)
	}
}

func TestPauseBlocksProtocols(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	if err := f.vault.Pause("rando"); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}

	if err := f.vault.Pause("pauser"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.nextRecord(t)

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); !errors.Is(err, vault.ErrPaused) {
		t.Errorf("deposit while paused: got %v, want ErrPaused", err)
	}
	if _, err := f.vault.Withdraw(context.Background(), user, asset.Native, 1_000000); !errors.Is(err, vault.ErrPaused) {
		t.Errorf("withdraw while paused: got %v, want ErrPaused", err)
	}

	if err := f.vault.Resume("pauser"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.nextRecord(t)

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Errorf("deposit after resume: %v", err)
	}
}

func TestRescueFunds(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()
	recipient := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.nextRecord(t)

	if err := f.vault.RescueFunds(context.Background(), "rando", recipient, asset.Native, big.NewInt(1)); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}

	tenth, _ := new(big.Int).SetString("100000000000000000", 10)
	if err := f.vault.RescueFunds(context.Background(), "treasurer", recipient, asset.Native, tenth); err != nil {
		t.Fatalf("rescue: %v", err)
	}

	// Rescue moves pool funds without touching any ledger balance.
	if b := f.vault.Balance(user, asset.Native); b.Cmp(oneNative) != 0 {
		t.Errorf("user balance changed by rescue: %s", b)
	}
	want := new(big.Int).Sub(oneNative, tenth)
	if pool := f.transferor.PoolBalance(asset.Native); pool.Cmp(want) != 0 {
		t.Errorf("pool: got %s, want %s", pool, want)
	}

	rec := f.nextRecord(t)
	if rec.Type != record.TypeRescue {
		t.Errorf("record type: got %s, want Rescue", rec.Type)
	}
}

// ============================================================================
// Test: Records and configuration
// ============================================================================

func TestRecords_SequencedAndPublished(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := uuid.New()

	if _, err := f.vault.Deposit(context.Background(), user, asset.Native, oneNative); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vault.Withdraw(context.Background(), user, asset.Native, 500_000000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	first, second := f.nextRecord(t), f.nextRecord(t)
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences: got (%d, %d), want (1, 2)", first.Sequence, second.Sequence)
	}

	// The same records go out on the publish channel, best-effort.
	if len(f.publish) != 2 {
		t.Errorf("publish channel: got %d records, want 2", len(f.publish))
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.WithdrawThreshold = cfg.Ceiling + 1
	f := newFixture(t, defaultConfig())

	_, err := vault.New(cfg, vault.Deps{
		Registry:   f.registry,
		Gateway:    oracle.NewGateway(time.Hour),
		Ledger:     ledger.New(),
		Transferor: f.transferor,
		Authorizer: auth.NewStaticAuthorizer(),
		Logger:     zerolog.Nop(),
	})
	if !errors.Is(err, vault.ErrInvalidConfiguration) {
		t.Errorf("got %v, want ErrInvalidConfiguration", err)
	}
}

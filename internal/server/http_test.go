package server_test

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/asset"
	"VaultLedger/internal/auth"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/record"
	"VaultLedger/internal/server"
	"VaultLedger/internal/swap"
	"VaultLedger/internal/transfer"
	"VaultLedger/internal/vault"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	nativeFeed := oracle.NewStaticFeed(big.NewInt(2000_00000000), 8, time.Now())
	registry, err := asset.NewRegistry("dev:native-usd", nativeFeed)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}

	persist := make(chan record.Record, 64)
	publish := make(chan record.Record, 64)

	v, err := vault.New(vault.Config{
		Ceiling:           10_000_000000,
		WithdrawThreshold: 2_000_000000,
		Heartbeat:         time.Hour,
	}, vault.Deps{
		Registry:   registry,
		Gateway:    oracle.NewGateway(time.Hour),
		Ledger:     ledger.New(),
		Transferor: transfer.NewMemoryTransferor(),
		Authorizer: auth.NewStaticAuthorizer().Grant(auth.RoleAdmin, "ops@vault"),
		Router:     swap.NewStaticRouter(),
		Persist:    persist,
		Publish:    publish,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)

	return server.NewRouter(server.Deps{
		Vault:  v,
		Health: health,
		ResolveFeed: func(ref string) (oracle.PriceFeed, error) {
			return oracle.NewStaticFeed(big.NewInt(1_00000000), 8, time.Now()), nil
		},
		Logger: zerolog.Nop(),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, body, caller string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]interface{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, decoded
}

func TestDepositEndpoint(t *testing.T) {
	h := newTestServer(t)
	user := uuid.New().String()

	rr, body := doJSON(t, h, http.MethodPost, "/api/v1/deposits",
		`{"user":"`+user+`","asset":"NATIVE","amount":"1000000000000000000"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body)
	}
	if usd, _ := body["usd_amount"].(float64); int64(usd) != 2000_000000 {
		t.Errorf("usd_amount: got %v, want 2000000000", body["usd_amount"])
	}

	// The balance is visible through the query surface.
	rr, body = doJSON(t, h, http.MethodGet, "/api/v1/balances/"+user+"/NATIVE", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("balance status: got %d", rr.Code)
	}
	if body["balance"] != "1000000000000000000" {
		t.Errorf("balance: got %v", body["balance"])
	}
}

func TestDepositEndpoint_BadRequest(t *testing.T) {
	h := newTestServer(t)

	rr, _ := doJSON(t, h, http.MethodPost, "/api/v1/deposits", `{not json`, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d, want 400", rr.Code)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/api/v1/deposits",
		`{"user":"not-a-uuid","asset":"NATIVE","amount":"1"}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad uuid: got %d, want 400", rr.Code)
	}
}

func TestWithdrawEndpoint_DomainErrorsMapped(t *testing.T) {
	h := newTestServer(t)
	user := uuid.New().String()

	// Insufficient balance maps to 409 with the current balance attached.
	rr, body := doJSON(t, h, http.MethodPost, "/api/v1/withdrawals",
		`{"user":"`+user+`","asset":"NATIVE","usd_amount":100000000}`, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", rr.Code)
	}
	details, _ := body["details"].(map[string]interface{})
	if details["current"] != "0" {
		t.Errorf("details.current: got %v, want \"0\"", details["current"])
	}

	// Over-threshold maps to 422.
	rr, _ = doJSON(t, h, http.MethodPost, "/api/v1/withdrawals",
		`{"user":"`+user+`","asset":"NATIVE","usd_amount":2000000001}`, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status: got %d, want 422", rr.Code)
	}
}

func TestAdminEndpoints_RoleGated(t *testing.T) {
	h := newTestServer(t)

	rr, _ := doJSON(t, h, http.MethodPost, "/api/v1/admin/assets",
		`{"asset":"USDC","decimals":6,"feed_ref":"dev:usdc-usd"}`, "rando")
	if rr.Code != http.StatusForbidden {
		t.Errorf("unauthorized register: got %d, want 403", rr.Code)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/api/v1/admin/assets",
		`{"asset":"USDC","decimals":6,"feed_ref":"dev:usdc-usd"}`, "ops@vault")
	if rr.Code != http.StatusOK {
		t.Errorf("authorized register: got %d, body %s", rr.Code, rr.Body)
	}

	rr, body := doJSON(t, h, http.MethodGet, "/api/v1/assets", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list assets: got %d", rr.Code)
	}
	assets, _ := body["assets"].([]interface{})
	if len(assets) != 2 {
		t.Errorf("assets: got %d, want 2", len(assets))
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestServer(t)

	rr, body := doJSON(t, h, http.MethodGet, "/api/v1/status", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if ceiling, _ := body["ceiling"].(float64); int64(ceiling) != 10_000_000000 {
		t.Errorf("ceiling: got %v", body["ceiling"])
	}
	if paused, _ := body["paused"].(bool); paused {
		t.Error("vault should start unpaused")
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(t)

	rr, _ := doJSON(t, h, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("healthz: got %d", rr.Code)
	}
	rr, _ = doJSON(t, h, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("readyz: got %d", rr.Code)
	}
}

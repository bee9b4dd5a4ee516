package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/shift-donations/internal/api"
	"github.com/ayo6706/shift-donations/internal/api/middleware"
	"github.com/ayo6706/shift-donations/internal/cache"
	"github.com/ayo6706/shift-donations/internal/config"
	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/ayo6706/shift-donations/internal/idempotency"
	"github.com/ayo6706/shift-donations/internal/pricing"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/ayo6706/shift-donations/internal/testutil/memstore"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "shift-donations-test"
	testJWTAudience = "shift-admin-test"

	donorWallet   = "0xdonor0000000000000000000000000000000002"
	creatorWallet = "0xcreator00000000000000000000000000000001"
)

func TestMain(m *testing.M) {
	zap.ReplaceGlobals(zap.NewNop())
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type testAPI struct {
	clock  *clock
	store  *memstore.Store
	gw     *gateway.MockGateway
	router chi.Router
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
	store := memstore.New()
	gw := gateway.NewMockGateway().WithClock(clk.Now)

	prices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"coins":{"ethereum:0x0000000000000000000000000000000000000000":{"price":3120.5,"symbol":"ETH"}}}`))
	}))
	t.Cleanup(prices.Close)

	shifts := service.NewShiftService(store, gw,
		service.WithClock(clk.Now),
		service.WithWaiter(func(ctx context.Context, d time.Duration) error {
			clk.Advance(d)
			return ctx.Err()
		}),
	)
	t.Cleanup(shifts.Close)

	mem := cache.NewMemory()
	svc := api.Services{
		Shifts:         shifts,
		Identities:     service.NewIdentityService(store),
		Quotes:         service.NewQuoteService(gw, "", service.DefaultCommissionRate),
		QuoteSessions:  service.NewQuoteSessions(clk.Now),
		Coins:          service.NewCoinService(gw, mem, time.Minute),
		Prices:         pricing.NewFeed(prices.URL, "", mem, time.Minute),
		Reconciliation: service.NewReconciliationService(store, gw),
	}
	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		IdempotencyTTL:     time.Hour,
	}
	idemStore := idempotency.NewStore(nil, store.Queries(), cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, zap.NewNop(), okPinger{}, nil, idemStore, svc)
	return &testAPI{clock: clk, store: store, gw: gw, router: router.Routes()}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) createShift(t *testing.T) service.CreateShiftResult {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/shifts", donation(), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res service.CreateShiftResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func donation() map[string]string {
	return map[string]string{
		"depositToken":   "ETH",
		"depositNetwork": "ethereum",
		"settleToken":    "USDC",
		"settleNetwork":  "polygon",
		"creatorWallet":  creatorWallet,
		"donorWallet":    donorWallet,
		"amount":         "0.05",
	}
}

func generateTokenWithRole(subject, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": role,
		"iss":  testJWTIssuer,
		"aud":  testJWTAudience,
		"sub":  subject,
		"iat":  now.Unix(),
		"nbf":  now.Add(-30 * time.Second).Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodPost, "/v1/shifts", map[string]string{"amount": "1"}, map[string]string{"X-Trace-ID": "shift_trace01"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "https://errors.shift-donations.dev/request/missing-fields", body["type"])
	assert.Equal(t, float64(http.StatusBadRequest), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/shifts", body["instance"])
	assert.Equal(t, "shift_trace01", body["request_id"])

	ctx, ok := body["context"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"depositToken", "depositNetwork", "settleToken", "settleNetwork", "creatorWallet", "donorWallet"}, ctx["fields"])
}

func TestCreateShiftAndRefreshStatus(t *testing.T) {
	a := setupAPI(t)

	res := a.createShift(t)
	assert.NotEmpty(t, res.TraceID)
	assert.Equal(t, domain.ShiftStatusWaiting, res.Order.Status)
	assert.Equal(t, res.ProviderEcho.ID, res.Order.ExternalOrderID)
	assert.Equal(t, res.Order.CreatedAt.Add(domain.CancelGracePeriod), res.Order.CancellableAt)

	for _, ref := range []string{res.Order.ID.String(), res.Order.ExternalOrderID} {
		t.Run(ref, func(t *testing.T) {
			w := a.do(t, http.MethodGet, "/v1/shifts/status?id="+ref, nil, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var snap service.RefreshResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
			require.NotNil(t, snap.Order)
			assert.Equal(t, res.Order.ID, snap.Order.ID)
			assert.Equal(t, "waiting", snap.ProviderStatus)
		})
	}
}

func TestShiftStatusValidation(t *testing.T) {
	a := setupAPI(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "missing id", path: "/v1/shifts/status", want: http.StatusBadRequest},
		{name: "unknown local id", path: "/v1/shifts/status?id=" + uuid.NewString(), want: http.StatusNotFound},
		{name: "unknown provider id", path: "/v1/shifts/status?id=doesnotexist", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestCreateShiftIdempotentReplay(t *testing.T) {
	a := setupAPI(t)
	headers := map[string]string{"Idempotency-Key": "donation-" + uuid.NewString()}

	first := a.do(t, http.MethodPost, "/v1/shifts", donation(), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := a.do(t, http.MethodPost, "/v1/shifts", donation(), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, a.gw.Calls("create_order"))

	changed := donation()
	changed["amount"] = "0.06"
	conflict := a.do(t, http.MethodPost, "/v1/shifts", changed, headers)
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestCreateShiftProviderFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "provider rejects", err: &gateway.UpstreamError{Op: "create_order", StatusCode: http.StatusBadRequest, Message: "Invalid settleAddress"}, want: http.StatusBadRequest},
		{name: "provider down", err: &gateway.UpstreamError{Op: "create_order", StatusCode: http.StatusServiceUnavailable}, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := setupAPI(t)
			a.gw.FailNext("create_order", tt.err)

			w := a.do(t, http.MethodPost, "/v1/shifts", donation(), nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, 0, a.store.IdentityCount())
		})
	}
}

func TestCancelShiftGracePeriod(t *testing.T) {
	a := setupAPI(t)
	res := a.createShift(t)
	body := map[string]string{"orderId": res.Order.ExternalOrderID}

	a.clock.Advance(2 * time.Minute)
	early := a.do(t, http.MethodPost, "/v1/shifts/cancel", body, nil)
	require.Equal(t, http.StatusBadRequest, early.Code, early.Body.String())
	assert.Equal(t, "180", early.Header().Get("Retry-After"))
	problem := decodeProblem(t, early)
	ctx := problem["context"].(map[string]any)
	assert.Equal(t, res.Order.CancellableAt.UTC().Format(time.RFC3339), ctx["cancellable_at"])
	assert.Equal(t, 0, a.gw.Calls("cancel"))

	a.clock.Advance(4 * time.Minute)
	w := a.do(t, http.MethodPost, "/v1/shifts/cancel", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, true, out["success"])
	assert.Equal(t, res.Order.ID.String(), out["shiftId"])
	assert.Equal(t, domain.ShiftStatusCancelled, out["status"])
	assert.NotEmpty(t, out["cancelledAt"])

	again := a.do(t, http.MethodPost, "/v1/shifts/cancel", body, nil)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestCancelShiftValidation(t *testing.T) {
	a := setupAPI(t)

	missing := a.do(t, http.MethodPost, "/v1/shifts/cancel", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	unknown := a.do(t, http.MethodPost, "/v1/shifts/cancel", map[string]string{"orderId": "nosuchorder"}, nil)
	require.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, "Order not found", decodeProblem(t, unknown)["detail"])
}

func TestSessionEnd(t *testing.T) {
	a := setupAPI(t)

	bad := a.do(t, http.MethodPost, "/v1/shifts/not-a-uuid/session-end", nil, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	unknown := a.do(t, http.MethodPost, "/v1/shifts/"+uuid.NewString()+"/session-end", nil, nil)
	assert.Equal(t, http.StatusAccepted, unknown.Code)

	res := a.createShift(t)
	w := a.do(t, http.MethodPost, "/v1/shifts/"+res.Order.ID.String()+"/session-end", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		row, err := a.store.GetShiftOrder(context.Background(), repository.ToPgUUID(res.Order.ID))
		return err == nil && row.Status == domain.ShiftStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMineListsDonorShifts(t *testing.T) {
	a := setupAPI(t)
	first := a.createShift(t)
	a.clock.Advance(time.Second)
	second := a.createShift(t)

	w := a.do(t, http.MethodPost, "/v1/shifts/mine", map[string]string{"wallet": donorWallet}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Shifts []struct {
			ID uuid.UUID `json:"id"`
		} `json:"shifts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Shifts, 2)
	assert.Equal(t, second.Order.ID, out.Shifts[0].ID)
	assert.Equal(t, first.Order.ID, out.Shifts[1].ID)

	missing := a.do(t, http.MethodPost, "/v1/shifts/mine", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestCreatorSetupAndProfile(t *testing.T) {
	a := setupAPI(t)
	profile := map[string]string{"wallet": creatorWallet, "name": "Ada", "token": "USDC", "chain": "polygon"}

	created := a.do(t, http.MethodPost, "/v1/creators", profile, nil)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	profile["name"] = "Ada L."
	updated := a.do(t, http.MethodPost, "/v1/creators", profile, nil)
	require.Equal(t, http.StatusOK, updated.Code)
	var identity map[string]any
	require.NoError(t, json.Unmarshal(updated.Body.Bytes(), &identity))
	assert.Equal(t, "Ada L.", identity["name"])
	assert.Equal(t, true, identity["isCreator"])

	invalid := a.do(t, http.MethodPost, "/v1/creators", map[string]string{"wallet": creatorWallet}, nil)
	require.Equal(t, http.StatusBadRequest, invalid.Code)
	ctx := decodeProblem(t, invalid)["context"].(map[string]any)
	assert.ElementsMatch(t, []any{"name", "token", "chain"}, ctx["fields"])

	me := a.do(t, http.MethodPost, "/v1/identities/me", map[string]string{"wallet": creatorWallet}, nil)
	assert.Equal(t, http.StatusOK, me.Code)

	unknown := a.do(t, http.MethodPost, "/v1/identities/me", map[string]string{"wallet": "0xnobody"}, nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestQuotes(t *testing.T) {
	a := setupAPI(t)

	t.Run("same asset needs no conversion", func(t *testing.T) {
		w := a.do(t, http.MethodGet, "/v1/quotes?depositToken=usdc&depositNetwork=polygon&settleToken=USDC&settleNetwork=polygon&amount=10", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var summary service.QuoteSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
		assert.True(t, summary.NoConversion)
		assert.Equal(t, 0, a.gw.Calls("quote"))
	})

	t.Run("below minimum", func(t *testing.T) {
		w := a.do(t, http.MethodGet, "/v1/quotes?depositToken=eth&depositNetwork=ethereum&settleToken=USDC&settleNetwork=polygon&amount=0.00001", nil, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		body := decodeProblem(t, w)
		assert.Equal(t, "Minimum donation is 0.0001 ETH", body["detail"])
	})

	t.Run("tracked session", func(t *testing.T) {
		w := a.do(t, http.MethodGet, "/v1/quotes?depositToken=ETH&depositNetwork=ethereum&settleToken=USDC&settleNetwork=polygon&amount=1", nil,
			map[string]string{"X-Quote-Session": "tab-1"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestListCoins(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/v1/coins?q=usdc&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page service.CoinPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Rows, 2)
	assert.True(t, page.HasMore)
	for _, row := range page.Rows {
		assert.Equal(t, "USDC", row.Coin)
	}

	a.do(t, http.MethodGet, "/v1/coins", nil, nil)
	assert.Equal(t, 1, a.gw.Calls("list_coins"))

	bad := a.do(t, http.MethodGet, "/v1/coins?page=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestPrices(t *testing.T) {
	a := setupAPI(t)

	missing := a.do(t, http.MethodGet, "/v1/prices", nil, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	w := a.do(t, http.MethodGet, "/v1/prices?symbols=eth-ethereum", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var prices pricing.Prices
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prices))
	entry, ok := prices.Coins["ethereum:"+domain.NativeTokenAddress]
	require.True(t, ok)
	assert.Equal(t, "3120.5", entry.Price.String())
}

func TestAdminReconciliationGaps(t *testing.T) {
	a := setupAPI(t)
	gap, err := a.store.InsertReconciliationGap(context.Background(), repository.InsertReconciliationGapParams{
		Kind:            domain.GapKindCreate,
		ExternalOrderID: "ext-1",
		TraceID:         "shift_trace02",
		Detail:          "insert failed",
	})
	require.NoError(t, err)

	admin := map[string]string{"Authorization": "Bearer " + generateTokenWithRole("ops-1", "admin")}

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "no token", want: http.StatusUnauthorized},
		{name: "malformed header", headers: map[string]string{"Authorization": "Token abc"}, want: http.StatusUnauthorized},
		{name: "not admin", headers: map[string]string{"Authorization": "Bearer " + generateTokenWithRole("ops-2", "viewer")}, want: http.StatusForbidden},
		{name: "admin", headers: admin, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodGet, "/v1/admin/reconciliation-gaps", nil, tt.headers)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	invalidKind := a.do(t, http.MethodGet, "/v1/admin/reconciliation-gaps?kind=payout", nil, admin)
	assert.Equal(t, http.StatusBadRequest, invalidKind.Code)

	resolvePath := "/v1/admin/reconciliation-gaps/" + itoa(gap.ID) + "/resolve"
	noReason := a.do(t, http.MethodPost, resolvePath, map[string]string{}, admin)
	assert.Equal(t, http.StatusBadRequest, noReason.Code)

	resolved := a.do(t, http.MethodPost, resolvePath, map[string]string{"reason": "order replayed manually"}, admin)
	require.Equal(t, http.StatusOK, resolved.Code, resolved.Body.String())

	again := a.do(t, http.MethodPost, resolvePath, map[string]string{"reason": "twice"}, admin)
	assert.Equal(t, http.StatusNotFound, again.Code)

	w := a.do(t, http.MethodGet, "/v1/admin/reconciliation-gaps", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"gaps":[]`) || strings.Contains(w.Body.String(), `"gaps":null`))
}

func TestHealthAndDocs(t *testing.T) {
	a := setupAPI(t)

	for _, path := range []string{"/health/live", "/health/ready", "/openapi.yaml"} {
		w := a.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/campaignledger/internal/ledger"
	"github.com/punchamoorthee/campaignledger/internal/locker"
	"github.com/punchamoorthee/campaignledger/internal/logger"
	"github.com/punchamoorthee/campaignledger/internal/pricing"
	"github.com/punchamoorthee/campaignledger/internal/service"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

const (
	campaignAddr = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	factoryAddr  = "0x1111111111111111111111111111111111111111"
	creatorAddr  = "0x2222222222222222222222222222222222222222"
	backerAddr   = "0x3333333333333333333333333333333333333333"
	heirAddr     = "0x5555555555555555555555555555555555555555"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router http.Handler
	svc    *service.Service
	clock  *testClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return buildTestServer(t, &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}, nil, nil)
}

// newLedgerTestServer serves the ledger feed backed by an in-process ledger
// that also answers balance checks.
func newLedgerTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	chain := ledger.NewMemory().WithClock(clk.Now)
	return buildTestServer(t, clk, []service.Option{service.WithLedger(chain, chain)}, []Option{WithLedgerFeed(chain)})
}

func buildTestServer(t *testing.T, clk *testClock, svcOpts []service.Option, opts []Option) *testServer {
	t.Helper()
	conv, err := pricing.NewConverter(pricing.DefaultRates())
	require.NoError(t, err)
	svc, err := service.New(store.NewMemory(), locker.NewLocal(), conv, logger.Nop(),
		append([]service.Option{service.WithClock(clk.Now)}, svcOpts...)...)
	require.NoError(t, err)
	return &testServer{router: NewHandler(svc, logger.Nop(), opts...).Router(), svc: svc, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createCampaign(t *testing.T, goal string) campaignResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"address":       campaignAddr,
		"name":          "Solar school",
		"creator":       creatorAddr,
		"factory":       factoryAddr,
		"network":       "sepolia",
		"goal":          goal,
		"deadline":      s.clock.Now().Add(30 * 24 * time.Hour),
		"token_enabled": true,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[campaignResponse](t, rec)
}

func asCreator() map[string]string { return map[string]string{actorHeader: creatorAddr} }

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodGet, "/health", nil, map[string]string{requestIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestCreateCampaign(t *testing.T) {
	s := newTestServer(t)
	c := s.createCampaign(t, "100000")
	assert.Equal(t, "pending", c.Status.String())
	assert.Equal(t, 0, c.StatusCode)
	assert.Equal(t, "0", c.Raised)
	assert.Equal(t, 30, c.DaysLeft)
	assert.Equal(t, creatorAddr, c.Admin)
	assert.Equal(t, map[string]string{"ETH": "0", "WBTC": "0"}, c.Balances)

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"address": campaignAddr, "name": "again", "creator": creatorAddr, "factory": factoryAddr,
		"network": "sepolia", "goal": "1", "deadline": s.clock.Now().Add(time.Hour),
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decode[errorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"address": "0x123", "name": "bad", "creator": creatorAddr, "factory": factoryAddr,
		"network": "sepolia", "goal": "1", "deadline": s.clock.Now().Add(time.Hour),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "address")

	rec = s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{"unexpected": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContributionFlow(t *testing.T) {
	s := newTestServer(t)
	s.createCampaign(t, "100000")
	base := "/api/v1/campaigns/" + campaignAddr

	rec := s.do(t, http.MethodPost, base+"/activate", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, base+"/activate", nil, asCreator())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[campaignResponse](t, rec).StatusCode)

	eth := map[string]any{"contributor": backerAddr, "asset": "eth", "amount": "1.0"}
	rec = s.do(t, http.MethodPost, base+"/contributions", eth, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "idempotency key is required")

	rec = s.do(t, http.MethodPost, base+"/contributions", eth, map[string]string{idempotencyHeader: "0xtx1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[contributeResponse](t, rec)
	assert.Equal(t, "2300", out.Campaign.Raised)
	assert.Equal(t, "1000000000000000000", out.Campaign.Balances["ETH"])
	assert.Equal(t, "2300", out.Contribution.Rate)
	assert.Equal(t, int64(1), out.Contribution.Sequence)

	rec = s.do(t, http.MethodPost, base+"/contributions", eth, map[string]string{idempotencyHeader: "0xtx1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_CONTRIBUTION", decode[errorResponse](t, rec).Code)

	wbtc := map[string]any{"contributor": backerAddr, "asset": "WBTC", "amount": "0.01"}
	rec = s.do(t, http.MethodPost, base+"/contributions", wbtc, map[string]string{idempotencyHeader: "0xtx2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out = decode[contributeResponse](t, rec)
	assert.Equal(t, "2750", out.Campaign.Raised)
	assert.Equal(t, "0.0275", out.Campaign.Progress)

	backdated := map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "1", "timestamp": "2020-01-01T00:00:00Z"}
	rec = s.do(t, http.MethodPost, base+"/contributions", backdated, map[string]string{idempotencyHeader: "0xtx5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "contribution time is not client controlled")

	zero := map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "0"}
	rec = s.do(t, http.MethodPost, base+"/contributions", zero, map[string]string{idempotencyHeader: "0xtx3"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_AMOUNT", decode[errorResponse](t, rec).Code)

	doge := map[string]any{"contributor": backerAddr, "asset": "DOGE", "amount": "5"}
	rec = s.do(t, http.MethodPost, base+"/contributions", doge, map[string]string{idempotencyHeader: "0xtx4"})
	assert.Equal(t, "ASSET_NOT_ENABLED", decode[errorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, base+"/contributions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	log := decode[[]contributionResponse](t, rec)
	require.Len(t, log, 2)
	assert.Equal(t, "0xtx1", log[0].TxRef)
	assert.Equal(t, "0.01", log[1].Units)
}

func TestFinalizeWithdrawAndTransfer(t *testing.T) {
	s := newTestServer(t)
	s.createCampaign(t, "1000")
	base := "/api/v1/campaigns/" + campaignAddr

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/activate", nil, asCreator()).Code)
	rec := s.do(t, http.MethodPost, base+"/contributions",
		map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "1"},
		map[string]string{idempotencyHeader: "0xtx1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/finalize", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[errorResponse](t, rec).Code)

	s.clock.Advance(31 * 24 * time.Hour)
	rec = s.do(t, http.MethodPost, base+"/finalize", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "successful", decode[campaignResponse](t, rec).Status.String())

	rec = s.do(t, http.MethodPost, base+"/creator", map[string]string{"new_creator": heirAddr}, asCreator())
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, base+"/creator", map[string]string{"new_creator": heirAddr}, asCreator())
	require.Equal(t, http.StatusOK, rec.Code, "retry is a no-op")
	transferred := decode[campaignResponse](t, rec)
	assert.Equal(t, heirAddr, transferred.Creator)
	assert.Equal(t, creatorAddr, transferred.PreviousCreator)

	rec = s.do(t, http.MethodPost, base+"/creator", map[string]string{"new_creator": heirAddr},
		map[string]string{actorHeader: backerAddr})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/withdraw", nil, asCreator())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	heir := map[string]string{actorHeader: heirAddr}
	rec = s.do(t, http.MethodPost, base+"/withdraw", nil, heir)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payout := decode[withdrawResponse](t, rec)
	assert.Equal(t, "1000000000000000000", payout.Payout["ETH"])
	assert.True(t, payout.Campaign.PaidOut)
	assert.Equal(t, "0", payout.Campaign.Balances["ETH"])

	rec = s.do(t, http.MethodPost, base+"/withdraw", nil, heir)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_PAID_OUT", decode[errorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, base+"/withdraw", nil, map[string]string{actorHeader: "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndStats(t *testing.T) {
	s := newTestServer(t)
	s.createCampaign(t, "5000")

	rec := s.do(t, http.MethodGet, "/api/v1/campaigns?status=pending&network=Sepolia", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]campaignResponse](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns?status=1,2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]campaignResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/campaigns?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsResponse](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["pending"])
	assert.Equal(t, "5000", stats.TotalGoal)
}

func TestGetCampaignErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/campaigns/"+campaignAddr, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/0xnope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.createCampaign(t, "10")
	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/"+campaignAddr, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLedgerFeedAndBalances(t *testing.T) {
	s := newLedgerTestServer(t)
	s.createCampaign(t, "100000")
	base := "/api/v1/campaigns/" + campaignAddr
	feed := "/api/v1/ledger/campaigns/" + campaignAddr + "/contributions"
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/activate", nil, asCreator()).Code)

	rec := s.do(t, http.MethodPost, feed, map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "1"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	txRef := decode[ledgerFeedResponse](t, rec).TxRef
	assert.NotEmpty(t, txRef)

	rec = s.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, "0", decode[campaignResponse](t, rec).Raised, "the feed does not apply contributions")

	rec = s.do(t, http.MethodGet, base+"/balances", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	checks := decode[[]balanceCheckResponse](t, rec)
	require.Len(t, checks, 2)
	assert.Equal(t, "ETH", checks[0].Asset)
	assert.False(t, checks[0].InSync)
	assert.Equal(t, "1000000000000000000", checks[0].Ledger)

	report, err := s.svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Zero(t, report.Drifted)

	rec = s.do(t, http.MethodGet, base+"/contributions", nil, nil)
	log := decode[[]contributionResponse](t, rec)
	require.Len(t, log, 1)
	assert.Equal(t, txRef, log[0].TxRef)

	rec = s.do(t, http.MethodGet, base+"/balances", nil, nil)
	for _, check := range decode[[]balanceCheckResponse](t, rec) {
		assert.True(t, check.InSync, check.Asset)
	}

	rec = s.do(t, http.MethodPost, feed, map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "0"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/ledger/campaigns/"+heirAddr+"/contributions",
		map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "1"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerRoutesWithoutLedger(t *testing.T) {
	s := newTestServer(t)
	s.createCampaign(t, "100")

	rec := s.do(t, http.MethodPost, "/api/v1/ledger/campaigns/"+campaignAddr+"/contributions",
		map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "1"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "feed route is only served with a ledger")

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/"+campaignAddr+"/balances", nil, nil)
	assert.Equal(t, "DEPENDENCY_ERROR", decode[errorResponse](t, rec).Code)
}

func TestRevenueSeries(t *testing.T) {
	s := newTestServer(t)
	s.createCampaign(t, "100000")
	base := "/api/v1/campaigns/" + campaignAddr
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/activate", nil, asCreator()).Code)
	rec := s.do(t, http.MethodPost, base+"/contributions",
		map[string]any{"contributor": backerAddr, "asset": "ETH", "amount": "1"},
		map[string]string{idempotencyHeader: "0xtx1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/revenue?period=week", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week := decode[[]revenuePointResponse](t, rec)
	require.Len(t, week, 7)
	assert.Equal(t, "2026-05-01", week[6].Label)
	assert.Equal(t, "2300", week[6].Revenue)
	assert.Equal(t, "0", week[6].Donations)
	assert.Equal(t, "0", week[0].Revenue)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/revenue", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	year := decode[[]revenuePointResponse](t, rec)
	require.Len(t, year, 12)
	assert.Equal(t, "2026-05", year[11].Label)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/revenue?period=decade", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

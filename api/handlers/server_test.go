package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/givestake/ledger/api/handlers"
	apitesting "github.com/givestake/ledger/api/testing"
	"github.com/givestake/ledger/ledger/pkg/accountant"
	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/declaration"
	"github.com/givestake/ledger/ledger/pkg/participation"
	"github.com/givestake/ledger/ledger/pkg/settlement"
	"github.com/givestake/ledger/ledger/pkg/types"
)

var (
	baseTime  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	authority = types.MustAddress("authority9")
	treasury  = types.MustAddress("treasury7")
	recipient = types.MustAddress("recipient3")
	alice     = types.MustAddress("a2ice")
	bob       = types.MustAddress("bob")
)

type testServer struct {
	srv   *handlers.Server
	clock *clockwork.FakeClock
	bank  *asset.Memory
	store *challenge.Store
}

type notifyRecorder struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (n *notifyRecorder) NotifyFinalized(_ context.Context, _ *challenge.Challenge, _ *settlement.FinalizeResult) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	select {
	case n.done <- struct{}{}:
	default:
	}
}

func newTestServer(t *testing.T, notifier handlers.SettlementNotifier) *testServer {
	t.Helper()
	pool := apitesting.NewTestPool(t, testDB)
	apitesting.ResetLedger(t, pool)
	clock := clockwork.NewFakeClockAt(baseTime)
	bank := asset.NewMemory(treasury)

	store, err := challenge.NewStore(challenge.StoreConfig{Logger: testLog, Pool: pool, Clock: clock})
	require.NoError(t, err)

	manager, err := participation.NewManager(participation.ManagerConfig{
		Logger: testLog, Pool: pool, Clock: clock, Asset: bank, Token: bank, Treasury: treasury,
	})
	require.NoError(t, err)

	declarer, err := declaration.NewEngine(declaration.EngineConfig{
		Logger: testLog, Pool: pool, Clock: clock, Authority: authority,
	})
	require.NoError(t, err)

	engine, err := settlement.NewEngine(settlement.EngineConfig{
		Logger: testLog, Pool: pool, Clock: clock, Asset: bank, Token: bank, Authority: authority,
	})
	require.NoError(t, err)

	acct, err := accountant.NewAccountant(accountant.AccountantConfig{
		Logger: testLog, Pool: pool, Asset: bank, Authority: authority,
	})
	require.NoError(t, err)

	srv, err := handlers.NewServer(handlers.ServerConfig{
		Logger:        testLog,
		Store:         store,
		Participation: manager,
		Declaration:   declarer,
		Settlement:    engine,
		Accountant:    acct,
		Notifier:      notifier,
		Version:       handlers.VersionInfo{Version: "test", Commit: "deadbeef", Date: "2026-03-01"},
		MutationRate:  handlers.NewRateLimiter(rate.Inf, 1),
	})
	require.NoError(t, err)

	return &testServer{srv: srv, clock: clock, bank: bank, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (ts *testServer) createChallenge(t *testing.T) int64 {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/challenges", handlers.CreateChallengeRequest{
		Recipient: recipient.String(),
		StartTime: ts.clock.Now().Add(time.Hour),
		EndTime:   ts.clock.Now().Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[map[string]int64](t, rec)["id"]
}

func (ts *testServer) join(t *testing.T, id int64, staker types.Address, stake int64) {
	t.Helper()
	ts.bank.Deposit(staker, stake)
	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/join", id), handlers.JoinRequest{
		Staker: staker.String(),
		Stake:  stake,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLedger_API_Health(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[handlers.VersionInfo](t, rec)
	require.Equal(t, "test", v.Version)
	require.Equal(t, "deadbeef", v.Commit)
}

func TestLedger_API_Challenges(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("create and fetch", func(t *testing.T) {
		id := ts.createChallenge(t)

		rec := ts.do(t, http.MethodGet, fmt.Sprintf("/api/challenges/%d", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		ch := decode[handlers.ChallengeResponse](t, rec)
		require.Equal(t, id, ch.ID)
		require.Equal(t, recipient.String(), ch.Recipient)
		require.False(t, ch.ResultsFinalized)
	})

	t.Run("create validation error maps to 400", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/challenges", handlers.CreateChallengeRequest{
			Recipient: recipient.String(),
			StartTime: ts.clock.Now().Add(2 * time.Hour),
			EndTime:   ts.clock.Now().Add(time.Hour),
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		errResp := decode[handlers.ErrorResponse](t, rec)
		require.Equal(t, "invalid_schedule", errResp.Error)
	})

	t.Run("unknown challenge maps to 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/challenges/9999999", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		errResp := decode[handlers.ErrorResponse](t, rec)
		require.Equal(t, "challenge_not_found", errResp.Error)
	})

	t.Run("malformed id maps to 400", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/challenges/abc", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list is paginated", func(t *testing.T) {
		fresh := newTestServer(t, nil)
		for range 3 {
			fresh.createChallenge(t)
		}

		rec := fresh.do(t, http.MethodGet, "/api/challenges?limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[handlers.PaginatedResponse[handlers.ChallengeResponse]](t, rec)
		require.Len(t, page.Items, 2)
		require.Equal(t, 2, page.Limit)

		rec = fresh.do(t, http.MethodGet, "/api/challenges?limit=2&offset=2", nil)
		page = decode[handlers.PaginatedResponse[handlers.ChallengeResponse]](t, rec)
		require.Len(t, page.Items, 1)
		require.Equal(t, 2, page.Offset)
	})

	t.Run("list filtered by address", func(t *testing.T) {
		fresh := newTestServer(t, nil)
		id := fresh.createChallenge(t)
		fresh.createChallenge(t)
		fresh.join(t, id, alice, 2*types.OneUnit)

		rec := fresh.do(t, http.MethodGet, "/api/challenges?address="+alice.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[handlers.PaginatedResponse[handlers.ChallengeResponse]](t, rec)
		require.Len(t, page.Items, 1)
		require.Equal(t, id, page.Items[0].ID)

		rec = fresh.do(t, http.MethodGet, "/api/challenges?address=0OIl", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown body fields", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/challenges", map[string]any{
			"recipient": recipient.String(),
			"bogus":     true,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLedger_API_JoinAndParticipants(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createChallenge(t)

	t.Run("join moves the stake", func(t *testing.T) {
		ts.bank.Deposit(alice, 10*types.OneUnit)
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/join", id), handlers.JoinRequest{
			Staker: alice.String(),
			Stake:  5 * types.OneUnit,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[handlers.JoinResponse](t, rec)
		require.Equal(t, 5*types.OneUnit, resp.Stake)
		require.Equal(t, 5*types.OneUnit, resp.Transferred)
		require.Zero(t, resp.Discount)
	})

	t.Run("double join maps to 409", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/join", id), handlers.JoinRequest{
			Staker: alice.String(),
			Stake:  5 * types.OneUnit,
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		errResp := decode[handlers.ErrorResponse](t, rec)
		require.Equal(t, "already_joined", errResp.Error)
	})

	t.Run("insufficient funds maps to 502", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/join", id), handlers.JoinRequest{
			Staker: types.MustAddress("broke5").String(),
			Stake:  5 * types.OneUnit,
		})
		require.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("participant listing and lookup", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, fmt.Sprintf("/api/challenges/%d/participants", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[handlers.PaginatedResponse[handlers.ParticipantResponse]](t, rec)
		require.Len(t, page.Items, 1)
		require.Equal(t, alice.String(), page.Items[0].Address)

		rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/challenges/%d/participants/%s", id, alice), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		p := decode[handlers.ParticipantResponse](t, rec)
		require.Equal(t, 5*types.OneUnit, p.InitialAmount)
		require.False(t, p.Claimed)

		rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/challenges/%d/participants/%s", id, bob), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLedger_API_SettlementFlow(t *testing.T) {
	notifier := &notifyRecorder{done: make(chan struct{}, 1)}
	ts := newTestServer(t, notifier)
	id := ts.createChallenge(t)
	ts.join(t, id, alice, 100*types.OneUnit)
	ts.join(t, id, bob, 50*types.OneUnit)
	ts.clock.Advance(2*time.Hour + time.Minute)

	t.Run("declare as non-authority maps to 403", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/declare", id), handlers.DeclareRequest{
			Caller:       alice.String(),
			Participants: []string{alice.String()},
			RefundBps:    []int64{10000},
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("declare batch", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/declare", id), handlers.DeclareRequest{
			Caller:       authority.String(),
			Participants: []string{alice.String(), bob.String()},
			RefundBps:    []int64{10000, 8000},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 2, decode[map[string]int](t, rec)["declared"])
	})

	t.Run("claim before finalize maps to 409", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/claim", id), handlers.CallerRequest{
			Caller: alice.String(),
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		errResp := decode[handlers.ErrorResponse](t, rec)
		require.Equal(t, "challenge_not_finalized", errResp.Error)
	})

	t.Run("finalize pays the recipient and notifies", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/finalize", id), handlers.CallerRequest{
			Caller: authority.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[handlers.FinalizeResponse](t, rec)
		// bob donates 20% of 50.
		require.Equal(t, 10*types.OneUnit, resp.TotalDonation)
		require.Equal(t, types.OneUnit, resp.Fee)
		require.Equal(t, 9*types.OneUnit, resp.NetDonation)
		require.Equal(t, 9*types.OneUnit, ts.bank.Balance(recipient))

		select {
		case <-notifier.done:
		case <-time.After(5 * time.Second):
			t.Fatal("finalize notification never arrived")
		}
	})

	t.Run("second finalize maps to 409", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/finalize", id), handlers.CallerRequest{
			Caller: authority.String(),
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		errResp := decode[handlers.ErrorResponse](t, rec)
		require.Equal(t, "already_finalized", errResp.Error)
	})

	t.Run("claim pays the refund", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/claim", id), handlers.CallerRequest{
			Caller: alice.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[handlers.ClaimResponse](t, rec)
		require.Equal(t, 100*types.OneUnit, resp.Refund)
		require.Positive(t, resp.Reward)
	})

	t.Run("fees reflect the settlement", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/fees", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		balances := decode[accountant.Balances](t, rec)
		require.Equal(t, int64(500_000), balances.CollectedFees)
		require.Equal(t, int64(500_000), balances.BackingPool)
	})

	t.Run("withdraw fees", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/fees/withdraw", handlers.WithdrawFeesRequest{
			Caller: alice.String(),
			To:     alice.String(),
		})
		require.Equal(t, http.StatusForbidden, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/fees/withdraw", handlers.WithdrawFeesRequest{
			Caller: authority.String(),
			To:     treasury.String(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, int64(500_000), decode[map[string]int64](t, rec)["amount"])
	})
}

func TestLedger_API_ClaimTimeout(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createChallenge(t)
	ts.join(t, id, alice, 30*types.OneUnit)
	ts.clock.Advance(2*time.Hour + time.Minute)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/claim-timeout", id), handlers.CallerRequest{
		Caller: alice.String(),
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	ts.clock.Advance(settlement.DefaultDeclarationTimeout)
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%d/claim-timeout", id), handlers.CallerRequest{
		Caller: alice.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handlers.ClaimResponse](t, rec)
	require.Equal(t, 30*types.OneUnit, resp.Refund)
	require.Zero(t, resp.Reward)
}

func TestLedger_API_RateLimit(t *testing.T) {
	t.Parallel()

	limiter := handlers.NewRateLimiter(rate.Every(time.Minute), 2)
	handler := handlers.RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/challenges", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	rec := do("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Limits are per client address.
	require.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/givestake/ledger/api/metrics"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/types"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 60 * time.Second
)

func readCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), readTimeout)
}

func writeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), writeTimeout)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// CreateChallengeRequest is the body of POST /api/challenges.
type CreateChallengeRequest struct {
	Recipient string    `json:"recipient"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsPrivate bool      `json:"is_private"`
	Whitelist []string  `json:"whitelist,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

// PostChallenge handles POST /api/challenges
func (s *Server) PostChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	var req CreateChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	params := challenge.CreateParams{
		Recipient: types.Address(req.Recipient),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		IsPrivate: req.IsPrivate,
		Metadata:  req.Metadata,
	}
	for _, entry := range req.Whitelist {
		params.Whitelist = append(params.Whitelist, types.Address(entry))
	}

	start := time.Now()
	id, err := s.store.Create(ctx, params)
	metrics.RecordLedgerOp("create", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// JoinRequest is the body of POST /api/challenges/{challengeID}/join.
type JoinRequest struct {
	Staker            string `json:"staker"`
	Stake             int64  `json:"stake"`
	MaxDiscountTokens int64  `json:"max_discount_tokens,omitempty"`
}

// JoinResponse reports what the join actually moved.
type JoinResponse struct {
	Stake        int64 `json:"stake"`
	Discount     int64 `json:"discount"`
	Transferred  int64 `json:"transferred"`
	BurnedTokens int64 `json:"burned_tokens"`
}

// PostJoin handles POST /api/challenges/{challengeID}/join
func (s *Server) PostJoin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}
	var req JoinRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.participation.Join(ctx, id, types.Address(req.Staker), req.Stake, req.MaxDiscountTokens)
	metrics.RecordLedgerOp("join", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, JoinResponse{
		Stake:        result.Stake,
		Discount:     result.Discount,
		Transferred:  result.Transferred,
		BurnedTokens: result.BurnedTokens,
	})
}

// DeclareRequest is the body of POST /api/challenges/{challengeID}/declare.
type DeclareRequest struct {
	Caller       string   `json:"caller"`
	Participants []string `json:"participants"`
	RefundBps    []int64  `json:"refund_bps"`
}

// PostDeclare handles POST /api/challenges/{challengeID}/declare
func (s *Server) PostDeclare(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}
	var req DeclareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	addrs := make([]types.Address, 0, len(req.Participants))
	for _, p := range req.Participants {
		addrs = append(addrs, types.Address(p))
	}

	start := time.Now()
	err := s.declaration.Declare(ctx, types.Address(req.Caller), id, addrs, req.RefundBps)
	metrics.RecordLedgerOp("declare", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"declared": len(addrs)})
}

// CallerRequest is the body of the finalize and claim endpoints.
type CallerRequest struct {
	Caller string `json:"caller"`
}

// FinalizeResponse reports the aggregate settlement split.
type FinalizeResponse struct {
	TotalDonation int64 `json:"total_donation"`
	Fee           int64 `json:"fee"`
	NetDonation   int64 `json:"net_donation"`
	TokenPot      int64 `json:"token_pot"`
}

// PostFinalize handles POST /api/challenges/{challengeID}/finalize
func (s *Server) PostFinalize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.settlement.Finalize(ctx, types.Address(req.Caller), id)
	metrics.RecordLedgerOp("finalize", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	s.refreshFeeGauges(ctx)

	if s.notifier != nil {
		if ch, gerr := s.store.Get(ctx, id); gerr == nil {
			go func() {
				notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer notifyCancel()
				s.notifier.NotifyFinalized(notifyCtx, ch, result)
			}()
		}
	}

	writeJSON(w, http.StatusOK, FinalizeResponse{
		TotalDonation: result.TotalDonation,
		Fee:           result.Fee,
		NetDonation:   result.NetDonation,
		TokenPot:      result.TokenPot,
	})
}

// ClaimResponse reports a paid claim.
type ClaimResponse struct {
	Refund int64 `json:"refund"`
	Reward int64 `json:"reward"`
}

// PostClaim handles POST /api/challenges/{challengeID}/claim
func (s *Server) PostClaim(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.settlement.ClaimRefund(ctx, types.Address(req.Caller), id)
	metrics.RecordLedgerOp("claim", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{Refund: result.Refund, Reward: result.Reward})
}

// PostClaimTimeout handles POST /api/challenges/{challengeID}/claim-timeout
func (s *Server) PostClaimTimeout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.settlement.ClaimTimeoutRefund(ctx, types.Address(req.Caller), id)
	metrics.RecordLedgerOp("claim_timeout", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{Refund: result.Refund})
}

// GetFees handles GET /api/fees
func (s *Server) GetFees(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := readCtx(r)
	defer cancel()

	balances, err := s.accountant.Balances(ctx)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// WithdrawFeesRequest is the body of POST /api/fees/withdraw.
type WithdrawFeesRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

// PostWithdrawFees handles POST /api/fees/withdraw
func (s *Server) PostWithdrawFees(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := writeCtx(r)
	defer cancel()

	var req WithdrawFeesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	amount, err := s.accountant.WithdrawFees(ctx, types.Address(req.Caller), types.Address(req.To))
	metrics.RecordLedgerOp("withdraw_fees", time.Since(start), err)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	s.refreshFeeGauges(ctx)

	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (s *Server) refreshFeeGauges(ctx context.Context) {
	balances, err := s.accountant.Balances(ctx)
	if err != nil {
		s.log.Debug("handlers: failed to refresh fee gauges", "error", err)
		return
	}
	metrics.SetFeePoolBalances(balances.CollectedFees, balances.BackingPool)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/types"
)

// ChallengeResponse is the JSON projection of a challenge.
type ChallengeResponse struct {
	ID                      int64      `json:"id"`
	Recipient               string     `json:"recipient"`
	StartTime               time.Time  `json:"start_time"`
	EndTime                 time.Time  `json:"end_time"`
	IsPrivate               bool       `json:"is_private"`
	Metadata                string     `json:"metadata,omitempty"`
	TotalDonation           int64      `json:"total_donation"`
	TotalWinnerInitialStake int64      `json:"total_winner_initial_stake"`
	DeclaredParticipants    int        `json:"declared_participants"`
	ParticipantCount        int        `json:"participant_count"`
	ResultsFinalized        bool       `json:"results_finalized"`
	FinalizedAt             *time.Time `json:"finalized_at,omitempty"`
	NetDonation             int64      `json:"net_donation"`
	FeeAmount               int64      `json:"fee_amount"`
	TokenPot                int64      `json:"token_pot"`
	CreatedAt               time.Time  `json:"created_at"`
}

func toChallengeResponse(ch *challenge.Challenge) ChallengeResponse {
	return ChallengeResponse{
		ID:                      ch.ID,
		Recipient:               ch.Recipient.String(),
		StartTime:               ch.StartTime,
		EndTime:                 ch.EndTime,
		IsPrivate:               ch.IsPrivate,
		Metadata:                ch.Metadata,
		TotalDonation:           ch.TotalDonation,
		TotalWinnerInitialStake: ch.TotalWinnerInitialStake,
		DeclaredParticipants:    ch.DeclaredParticipants,
		ParticipantCount:        ch.ParticipantCount,
		ResultsFinalized:        ch.ResultsFinalized,
		FinalizedAt:             ch.FinalizedAt,
		NetDonation:             ch.NetDonation,
		FeeAmount:               ch.FeeAmount,
		TokenPot:                ch.TokenPot,
		CreatedAt:               ch.CreatedAt,
	}
}

// ParticipantResponse is the JSON projection of a participant.
type ParticipantResponse struct {
	ChallengeID    int64      `json:"challenge_id"`
	Address        string     `json:"address"`
	InitialAmount  int64      `json:"initial_amount"`
	Amount         int64      `json:"amount"`
	RefundBps      int        `json:"refund_bps"`
	ResultDeclared bool       `json:"result_declared"`
	TimeoutClaimed bool       `json:"timeout_claimed"`
	Claimed        bool       `json:"claimed"`
	JoinedAt       time.Time  `json:"joined_at"`
	DeclaredAt     *time.Time `json:"declared_at,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
}

func toParticipantResponse(p *challenge.Participant) ParticipantResponse {
	return ParticipantResponse{
		ChallengeID:    p.ChallengeID,
		Address:        p.Address.String(),
		InitialAmount:  p.InitialAmount,
		Amount:         p.Amount,
		RefundBps:      p.RefundBps,
		ResultDeclared: p.ResultDeclared,
		TimeoutClaimed: p.TimeoutClaimed,
		Claimed:        p.Claimed(),
		JoinedAt:       p.JoinedAt,
		DeclaredAt:     p.DeclaredAt,
		ClaimedAt:      p.ClaimedAt,
	}
}

func (s *Server) challengeIDFromURL(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "challengeID"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid challenge id")
		return 0, false
	}
	return id, true
}

// GetChallenges handles GET /api/challenges
func (s *Server) GetChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := readCtx(r)
	defer cancel()

	page := ParsePagination(r, DefaultLimit)

	var (
		items []*challenge.Challenge
		err   error
	)
	if addr := r.URL.Query().Get("address"); addr != "" {
		parsed, perr := types.ParseAddress(addr)
		if perr != nil {
			writeBadRequest(w, "invalid address filter")
			return
		}
		items, err = s.store.ListByAddress(ctx, parsed, page.Limit, page.Offset)
	} else {
		items, err = s.store.List(ctx, page.Limit, page.Offset)
	}
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := PaginatedResponse[ChallengeResponse]{
		Items:  make([]ChallengeResponse, 0, len(items)),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, ch := range items {
		resp.Items = append(resp.Items, toChallengeResponse(ch))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetChallenge handles GET /api/challenges/{challengeID}
func (s *Server) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := readCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}

	ch, err := s.store.Get(ctx, id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(ch))
}

// GetParticipants handles GET /api/challenges/{challengeID}/participants
func (s *Server) GetParticipants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := readCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}

	page := ParsePagination(r, DefaultLimit)
	items, err := s.store.ListParticipants(ctx, id, page.Limit, page.Offset)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := PaginatedResponse[ParticipantResponse]{
		Items:  make([]ParticipantResponse, 0, len(items)),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, p := range items {
		resp.Items = append(resp.Items, toParticipantResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetParticipant handles GET /api/challenges/{challengeID}/participants/{address}
func (s *Server) GetParticipant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := readCtx(r)
	defer cancel()

	id, ok := s.challengeIDFromURL(w, r)
	if !ok {
		return
	}
	addr, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, "invalid participant address")
		return
	}

	p, err := s.store.GetParticipant(ctx, id, addr)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantResponse(p))
}

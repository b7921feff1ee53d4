package challenge

import (
	"time"

	"github.com/givestake/ledger/ledger/pkg/types"
)

// Challenge is a time-boxed pool of staked funds. Rows are never deleted;
// settled challenges stay archived for audit.
type Challenge struct {
	ID                      int64
	Recipient               types.Address
	StartTime               time.Time
	EndTime                 time.Time
	IsPrivate               bool
	Metadata                string
	TotalDonation           int64
	TotalWinnerInitialStake int64
	DeclaredParticipants    int
	ParticipantCount        int
	ResultsFinalized        bool
	FinalizedAt             *time.Time
	NetDonation             int64
	FeeAmount               int64
	TokenPot                int64
	CreatedAt               time.Time
}

// Participant is one address's stake in a challenge. Amount starts equal to
// InitialAmount; once ResultDeclared it holds the computed refund, and a
// successful claim zeroes it. After the declared transition Amount must never
// be read as "the original stake" again.
type Participant struct {
	ID             int64
	ChallengeID    int64
	Address        types.Address
	InitialAmount  int64
	Amount         int64
	RefundBps      int
	ResultDeclared bool
	TimeoutClaimed bool
	JoinedAt       time.Time
	DeclaredAt     *time.Time
	ClaimedAt      *time.Time
}

// Claimed reports whether the participant's balance has been paid out.
func (p *Participant) Claimed() bool {
	return p.ClaimedAt != nil
}

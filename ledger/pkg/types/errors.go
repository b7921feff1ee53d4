package types

// ErrorKind classifies ledger errors so callers can map them to transport
// semantics without string matching.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindAuthorization
	KindTemporal
	KindStateConflict
	KindNotFound
	KindCollaborator
)

// Error is a ledger failure with a stable machine-readable code. Every
// operation aborts with exactly one of these; no partial state mutation
// survives a returned Error.
type Error struct {
	Code    string
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newErr(code string, kind ErrorKind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

var (
	// Registry
	ErrInvalidRecipient = newErr("invalid_recipient", KindValidation, "recipient address is empty or malformed")
	ErrInvalidSchedule  = newErr("invalid_schedule", KindValidation, "start time must be in the future and before end time")
	ErrEmptyWhitelist   = newErr("empty_whitelist", KindValidation, "private challenge requires a non-empty whitelist")

	// Participation
	ErrChallengeNotFound = newErr("challenge_not_found", KindNotFound, "challenge does not exist")
	ErrChallengeEnded    = newErr("challenge_ended", KindTemporal, "challenge is no longer accepting participants")
	ErrBelowMinimum      = newErr("below_minimum", KindValidation, "stake is below the minimum amount")
	ErrNotWhitelisted    = newErr("not_whitelisted", KindAuthorization, "address is not on the challenge whitelist")
	ErrAlreadyJoined     = newErr("already_joined", KindStateConflict, "address already joined this challenge")

	// Declaration
	ErrNotAuthorized             = newErr("not_authorized", KindAuthorization, "caller is not the declaration authority")
	ErrChallengeNotEnded         = newErr("challenge_not_ended", KindTemporal, "challenge has not ended yet")
	ErrDeclarationWindowExpired  = newErr("declaration_window_expired", KindTemporal, "declaration window has closed")
	ErrArrayLengthMismatch       = newErr("array_length_mismatch", KindValidation, "addresses and percentages differ in length")
	ErrInvalidPercentage         = newErr("invalid_percentage", KindValidation, "refund percentage exceeds 10000 basis points")
	ErrParticipantNotFound       = newErr("participant_not_found", KindNotFound, "address never joined this challenge")
	ErrAlreadyDeclared           = newErr("already_declared", KindStateConflict, "participant result already declared")
	ErrDeclarationWindowNotExpired = newErr("declaration_window_not_expired", KindTemporal, "declaration window has not expired yet")

	// Settlement & claims
	ErrAlreadyFinalized      = newErr("already_finalized", KindStateConflict, "challenge results already finalized")
	ErrNotAllDeclared        = newErr("not_all_declared", KindStateConflict, "not all participants have declared results")
	ErrResultsNotDeclared    = newErr("results_not_declared", KindStateConflict, "no result declared for this participant")
	ErrChallengeNotFinalized = newErr("challenge_not_finalized", KindStateConflict, "challenge has not been finalized")
	ErrAlreadyClaimed        = newErr("already_claimed", KindStateConflict, "refund already claimed")

	// Accountant
	ErrNoFeesToWithdraw = newErr("no_fees_to_withdraw", KindStateConflict, "no collected fees to withdraw")
	ErrInvalidAddress   = newErr("invalid_address", KindValidation, "destination address is empty or malformed")

	// Collaborators
	ErrTransferFailed = newErr("transfer_failed", KindCollaborator, "asset transfer was rejected")
	ErrTokenOpFailed  = newErr("token_op_failed", KindCollaborator, "reward token operation was rejected")
)

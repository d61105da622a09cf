package ledger

import "errors"

// Guard violations: the call is rejected and no state changes. Callers map
// these to 4xx at the HTTP edge.
var (
	ErrWorkExists       = errors.New("work already registered")
	ErrUnknownWork      = errors.New("unknown work")
	ErrWorkClosed       = errors.New("work is closed")
	ErrNoParticipants   = errors.New("participant list is empty")
	ErrTooMany          = errors.New("participant or validator bound exceeded")
	ErrDuplicateWorker  = errors.New("duplicate participant")
	ErrWeightMismatch   = errors.New("weight count does not match participants")
	ErrWeightSum        = errors.New("contribution weights must sum to 10000 basis points")
	ErrDeadlinesSet     = errors.New("deadlines already set")
	ErrDeadlinesUnset   = errors.New("deadlines not set")
	ErrWindowEmpty      = errors.New("commit and reveal windows must be positive")
	ErrCommitClosed     = errors.New("commit window has closed")
	ErrDuplicateCommit  = errors.New("commitment already set for this validator")
	ErrZeroCommitment   = errors.New("commitment must be non-zero")
	ErrNoCommitment     = errors.New("no commitment to reveal against")
	ErrRevealEarly      = errors.New("reveal window has not opened")
	ErrRevealClosed     = errors.New("reveal window has closed")
	ErrCommitMismatch   = errors.New("reveal does not match commitment")
	ErrRoleDenied       = errors.New("account lacks the required role")
	ErrNotParticipant   = errors.New("scored worker is not a participant")
	ErrAlreadyCommitted = errors.New("legacy ingestion is closed once a commitment exists")
)

// AmbiguousDecode: the strict reveal path rejects score payloads of
// unexpected length outright.
var ErrBadVectorLength = errors.New("score vector length does not match studio dimensions")

// ErrBadScore rejects any score outside [0, 100] at the trust boundary.
var ErrBadScore = errors.New("score outside [0, 100]")

package governance

import "errors"

var (
	// ErrProposalNotFound indicates the proposal was not found
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrProposalExists indicates a proposal with the same derived id
	// already exists; resubmission needs a different description
	ErrProposalExists = errors.New("proposal already exists")

	// ErrEmptyProposal indicates a proposal without any calls
	ErrEmptyProposal = errors.New("proposal has no calls")

	// ErrAlreadyVoted indicates the voter already cast on this proposal
	ErrAlreadyVoted = errors.New("voter already cast a vote")

	// ErrVotingClosed indicates the vote is outside the voting window
	ErrVotingClosed = errors.New("voting is closed")

	// ErrInvalidSupport indicates an unknown vote support value
	ErrInvalidSupport = errors.New("invalid vote support")

	// ErrWrongState indicates an operation invalid in the proposal's
	// current state
	ErrWrongState = errors.New("proposal is in the wrong state")

	// ErrNotAuthorized indicates the caller may not perform the operation
	ErrNotAuthorized = errors.New("caller is not authorized")

	// ErrPercentMajorityOutOfRange indicates a percent majority outside
	// [50, 100)
	ErrPercentMajorityOutOfRange = errors.New("percent majority out of range")

	// ErrQuorumOutOfRange indicates a quorum above 10000 bps
	ErrQuorumOutOfRange = errors.New("quorum out of range")

	// ErrInvalidVotingPeriod indicates a zero-length voting period
	ErrInvalidVotingPeriod = errors.New("voting period must be positive")

	// ErrInvalidDecaySchedule indicates inconsistent deadline extension
	// parameters
	ErrInvalidDecaySchedule = errors.New("invalid deadline extension schedule")

	// ErrInvalidCommand indicates a malformed governance command payload
	ErrInvalidCommand = errors.New("malformed governance command")
)

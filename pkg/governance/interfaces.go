package governance

import (
	"agora/pkg/timelock"
)

// VoteWeightSource exposes checkpointed vote weight. CastVote always reads
// the weight as of the proposal's snapshot timepoint, never the current
// one.
type VoteWeightSource interface {
	// PastVotes returns the vote weight of account as of timepoint
	PastVotes(account string, timepoint uint64) uint64

	// PastTotalSupply returns the total deposited weight as of timepoint
	PastTotalSupply(timepoint uint64) uint64
}

// ProposalStore defines methods for storing proposals. A missing proposal
// is reported as (nil, nil); the service maps that to ErrProposalNotFound.
type ProposalStore interface {
	// SaveProposal saves or replaces a proposal
	SaveProposal(proposal *Proposal) error

	// GetProposal returns a proposal by id
	GetProposal(id string) (*Proposal, error)

	// ListProposals returns all proposals
	ListProposals() ([]*Proposal, error)
}

// OperationScheduler is the timelock surface the governor drives: queueing
// succeeded proposals, triggering execution and cascading cancellation.
// Implemented by *timelock.Executor.
type OperationScheduler interface {
	Schedule(caller string, calls []timelock.Call, predecessor, salt string, delay uint64) (string, error)
	Execute(id string) error
	Cancel(caller, id string) error
	Status(id string) timelock.Status
	ExpiresAt(id string) (uint64, error)
	MinDelay() uint64
	IsCanceler(address string) bool
}

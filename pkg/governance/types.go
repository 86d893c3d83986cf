package governance

import (
	"agora/pkg/timelock"
)

// ProposalState represents the lifecycle state of a proposal
type ProposalState int

const (
	ProposalStatePending ProposalState = iota
	ProposalStateActive
	ProposalStateCanceled
	ProposalStateDefeated
	ProposalStateSucceeded
	ProposalStateQueued
	ProposalStateExpired
	ProposalStateExecuted
)

// String returns a human-readable state name
func (s ProposalState) String() string {
	switch s {
	case ProposalStatePending:
		return "pending"
	case ProposalStateActive:
		return "active"
	case ProposalStateCanceled:
		return "canceled"
	case ProposalStateDefeated:
		return "defeated"
	case ProposalStateSucceeded:
		return "succeeded"
	case ProposalStateQueued:
		return "queued"
	case ProposalStateExpired:
		return "expired"
	case ProposalStateExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s ProposalState) Terminal() bool {
	switch s {
	case ProposalStateCanceled, ProposalStateDefeated, ProposalStateExpired, ProposalStateExecuted:
		return true
	default:
		return false
	}
}

// VoteSupport represents a voter's position on a proposal
type VoteSupport int

const (
	SupportAgainst VoteSupport = iota
	SupportFor
	SupportAbstain
)

// VoteReceipt records one voter's cast on one proposal. At most one receipt
// exists per (proposal, voter) pair.
type VoteReceipt struct {
	Voter   string      `json:"voter"`
	Support VoteSupport `json:"support"`
	Weight  uint64      `json:"weight"`
	Reason  string      `json:"reason,omitempty"`
}

// Proposal represents a governance proposal: a batch of calls put to a
// checkpoint-weighted vote. VoteStart and VoteEnd are fixed at creation;
// ExtendedDeadline only ever moves forward via the late-swing extension
// rule. Proposals are never deleted, terminal states are kept for audit.
type Proposal struct {
	ID               string                  `json:"id"`
	Proposer         string                  `json:"proposer"`
	Calls            []timelock.Call         `json:"calls"`
	Description      string                  `json:"description"`
	VoteStart        uint64                  `json:"voteStart"`
	VoteEnd          uint64                  `json:"voteEnd"`
	ExtendedDeadline uint64                  `json:"extendedDeadline,omitempty"`
	ForVotes         uint64                  `json:"forVotes"`
	AgainstVotes     uint64                  `json:"againstVotes"`
	AbstainVotes     uint64                  `json:"abstainVotes"`
	Receipts         map[string]*VoteReceipt `json:"-"`
	Canceled         bool                    `json:"canceled"`
	Executed         bool                    `json:"executed"`
	OperationID      string                  `json:"operationId,omitempty"`
}

// Deadline returns the effective voting deadline: the original VoteEnd or
// the extended one, whichever is later.
func (p *Proposal) Deadline() uint64 {
	if p.ExtendedDeadline > p.VoteEnd {
		return p.ExtendedDeadline
	}
	return p.VoteEnd
}

// Config represents the governance configuration. The percent majority,
// quorum and voting window parameters are starting values; later changes go
// through the checkpointed setters and only affect future proposals.
type Config struct {
	PercentMajority uint64 `json:"percent_majority"`
	QuorumBps       uint64 `json:"quorum_bps"`
	VotingDelay     uint64 `json:"voting_delay"`
	VotingPeriod    uint64 `json:"voting_period"`

	// AbstainCountsForQuorum includes abstain weight when checking quorum
	AbstainCountsForQuorum bool `json:"abstain_counts_for_quorum"`

	// Deadline extension: a vote cast within DecayWindow timepoints of the
	// original deadline, with the outcome within MarginThreshold of
	// tipping, extends the deadline by BaseExtension minus DecayPercent of
	// it per elapsed DecayPeriod, never more than MaxExtension past the
	// original deadline.
	BaseExtension   uint64 `json:"base_extension"`
	DecayWindow     uint64 `json:"decay_window"`
	DecayPeriod     uint64 `json:"decay_period"`
	DecayPercent    uint64 `json:"decay_percent"`
	MaxExtension    uint64 `json:"max_extension"`
	MarginThreshold uint64 `json:"margin_threshold"`
}

// DefaultConfig returns the default governance configuration
func DefaultConfig() *Config {
	return &Config{
		PercentMajority:        50,
		QuorumBps:              500, // 5%
		VotingDelay:            10,
		VotingPeriod:           100,
		AbstainCountsForQuorum: true,
		BaseExtension:          20,
		DecayWindow:            20,
		DecayPeriod:            4,
		DecayPercent:           20,
		MaxExtension:           50,
		MarginThreshold:        1000,
	}
}

// Validate checks configuration ranges.
func (c *Config) Validate() error {
	if c.PercentMajority < 50 || c.PercentMajority >= 100 {
		return ErrPercentMajorityOutOfRange
	}
	if c.QuorumBps > 10000 {
		return ErrQuorumOutOfRange
	}
	if c.VotingPeriod == 0 {
		return ErrInvalidVotingPeriod
	}
	if c.BaseExtension > 0 && c.DecayPeriod == 0 {
		return ErrInvalidDecaySchedule
	}
	if c.DecayPercent > 100 {
		return ErrInvalidDecaySchedule
	}
	return nil
}

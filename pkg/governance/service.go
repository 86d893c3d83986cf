package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"agora/pkg/chain"
	"agora/pkg/checkpoint"
	"agora/pkg/timelock"
	"go.uber.org/zap"
)

// param is one checkpointed governance setting. Reads before the first
// checkpointed update fall back to the initial scalar; the first update
// seeds a (0, initial) entry so proposals snapshotted before the migration
// keep reading the old value.
type param struct {
	store   *checkpoint.Store
	initial uint64
}

func newParam(initial uint64) *param {
	return &param{store: checkpoint.NewStore(0), initial: initial}
}

func (p *param) lookup(timepoint uint64) uint64 {
	if p.store.Len() == 0 {
		return p.initial
	}
	return p.store.Lookup(timepoint)
}

func (p *param) set(timepoint, value uint64) error {
	p.store.SeedIfEmpty(p.initial)
	return p.store.Push(timepoint, value)
}

// Service represents the governance service: it runs the proposal
// lifecycle, tallies checkpoint-weighted votes and drives the timelock for
// succeeded proposals. The service itself must be an enabled module on the
// executor (to schedule) and hold its canceler role (to cascade
// cancellations).
type Service struct {
	address  string
	clock    chain.Clock
	weights  VoteWeightSource
	store    ProposalStore
	timelock OperationScheduler
	executor string
	config   *Config
	logger   *zap.Logger

	percentMajority *param
	quorumBps       *param
	votingDelay     *param
	votingPeriod    *param

	mutex sync.Mutex
}

// NewService creates a new governance service. executor is the timelock
// executor's address: configuration setters only accept it as caller, so
// parameter changes must travel through an executed timelocked operation.
func NewService(
	address string,
	clock chain.Clock,
	weights VoteWeightSource,
	store ProposalStore,
	scheduler OperationScheduler,
	executor string,
	config *Config,
	logger *zap.Logger,
) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		address:         address,
		clock:           clock,
		weights:         weights,
		store:           store,
		timelock:        scheduler,
		executor:        executor,
		config:          config,
		logger:          logger,
		percentMajority: newParam(config.PercentMajority),
		quorumBps:       newParam(config.QuorumBps),
		votingDelay:     newParam(config.VotingDelay),
		votingPeriod:    newParam(config.VotingPeriod),
	}, nil
}

// Address returns the governor's module address.
func (s *Service) Address() string {
	return s.address
}

// ProposalID derives the deterministic proposal id from the proposer, the
// batched calls and the description. Identical submissions collide.
func ProposalID(proposer string, calls []timelock.Call, description string) (string, error) {
	payload, err := timelock.EncodeCalls(calls)
	if err != nil {
		return "", err
	}
	descHash := sha256.Sum256([]byte(description))
	h := sha256.New()
	h.Write([]byte(proposer))
	h.Write(payload)
	h.Write(descHash[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Propose creates a new proposal. The voting window is fixed now: voting
// opens after the current voting delay and stays open for the current
// voting period.
func (s *Service) Propose(proposer string, calls []timelock.Call, description string) (string, error) {
	if len(calls) == 0 {
		return "", ErrEmptyProposal
	}
	id, err := ProposalID(proposer, calls, description)
	if err != nil {
		return "", err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, err := s.store.GetProposal(id)
	if err != nil {
		return "", fmt.Errorf("failed to look up proposal: %w", err)
	}
	if existing != nil {
		return "", fmt.Errorf("%w: %s", ErrProposalExists, id)
	}

	now := s.clock.Now()
	voteStart := now + s.votingDelay.lookup(now)
	proposal := &Proposal{
		ID:          id,
		Proposer:    proposer,
		Calls:       append([]timelock.Call(nil), calls...),
		Description: description,
		VoteStart:   voteStart,
		VoteEnd:     voteStart + s.votingPeriod.lookup(now),
		Receipts:    make(map[string]*VoteReceipt),
	}
	if err := s.store.SaveProposal(proposal); err != nil {
		return "", fmt.Errorf("failed to save proposal: %w", err)
	}

	s.logger.Info("proposal created",
		zap.String("proposal", id),
		zap.String("proposer", proposer),
		zap.Uint64("voteStart", proposal.VoteStart),
		zap.Uint64("voteEnd", proposal.VoteEnd),
	)
	return id, nil
}

// CastVote casts a vote using the voter's weight at the proposal's snapshot
// timepoint.
func (s *Service) CastVote(voter, proposalID string, support VoteSupport) (uint64, error) {
	return s.CastVoteWithReason(voter, proposalID, support, "")
}

// CastVoteWithReason casts a vote with an attached reason string. The
// weight counted is the voter's checkpointed weight as of the proposal's
// voteStart, so weight moved after the snapshot cannot influence the tally.
// A late vote that keeps the outcome within the margin threshold may extend
// the deadline per the decay schedule.
func (s *Service) CastVoteWithReason(voter, proposalID string, support VoteSupport, reason string) (uint64, error) {
	if support != SupportAgainst && support != SupportFor && support != SupportAbstain {
		return 0, ErrInvalidSupport
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	if proposal.Canceled || proposal.Executed || now < proposal.VoteStart || now > proposal.Deadline() {
		return 0, ErrVotingClosed
	}
	if _, voted := proposal.Receipts[voter]; voted {
		return 0, ErrAlreadyVoted
	}

	weight := s.weights.PastVotes(voter, proposal.VoteStart)
	switch support {
	case SupportAgainst:
		proposal.AgainstVotes += weight
	case SupportFor:
		proposal.ForVotes += weight
	case SupportAbstain:
		proposal.AbstainVotes += weight
	}
	proposal.Receipts[voter] = &VoteReceipt{
		Voter:   voter,
		Support: support,
		Weight:  weight,
		Reason:  reason,
	}

	majority := s.percentMajority.lookup(proposal.VoteStart)
	if maybeExtendDeadline(s.config, proposal, majority, now) {
		s.logger.Info("voting deadline extended",
			zap.String("proposal", proposalID),
			zap.Uint64("deadline", proposal.Deadline()),
		)
	}

	if err := s.store.SaveProposal(proposal); err != nil {
		return 0, fmt.Errorf("failed to save proposal: %w", err)
	}
	s.logger.Info("vote cast",
		zap.String("proposal", proposalID),
		zap.String("voter", voter),
		zap.Int("support", int(support)),
		zap.Uint64("weight", weight),
	)
	return weight, nil
}

// VoteSucceeded checks the percent-majority rule against the majority
// percentage in effect at the proposal's snapshot.
func (s *Service) VoteSucceeded(proposalID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return false, err
	}
	return s.voteSucceeded(proposal), nil
}

func (s *Service) voteSucceeded(p *Proposal) bool {
	return voteSucceeded(p.ForVotes, p.AgainstVotes, s.percentMajority.lookup(p.VoteStart))
}

// QuorumReached checks participation against the quorum in effect at the
// proposal's snapshot.
func (s *Service) QuorumReached(proposalID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return false, err
	}
	return s.quorumReached(proposal), nil
}

func (s *Service) quorumReached(p *Proposal) bool {
	return quorumReached(
		p.ForVotes, p.AgainstVotes, p.AbstainVotes,
		s.quorumBps.lookup(p.VoteStart),
		s.weights.PastTotalSupply(p.VoteStart),
		s.config.AbstainCountsForQuorum,
	)
}

// VoteMargin returns the signed distance between the proposal's current
// forVotes and the tipping point of the majority threshold.
func (s *Service) VoteMargin(proposalID string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return 0, err
	}
	return voteMargin(proposal.ForVotes, proposal.AgainstVotes, s.percentMajority.lookup(proposal.VoteStart)), nil
}

// State returns the proposal's current lifecycle state.
func (s *Service) State(proposalID string) (ProposalState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return 0, err
	}
	return s.state(proposal), nil
}

func (s *Service) state(p *Proposal) ProposalState {
	if p.Canceled {
		return ProposalStateCanceled
	}
	if p.Executed {
		return ProposalStateExecuted
	}
	now := s.clock.Now()
	if now < p.VoteStart {
		return ProposalStatePending
	}
	if now <= p.Deadline() {
		return ProposalStateActive
	}
	if !s.quorumReached(p) || !s.voteSucceeded(p) {
		return ProposalStateDefeated
	}
	if p.OperationID != "" {
		if expiresAt, err := s.timelock.ExpiresAt(p.OperationID); err == nil && now > expiresAt {
			return ProposalStateExpired
		}
		return ProposalStateQueued
	}
	return ProposalStateSucceeded
}

// Queue forwards a succeeded proposal's calls to the timelock. It fails
// for proposals that have not succeeded and for proposals already queued.
func (s *Service) Queue(proposalID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return err
	}
	if state := s.state(proposal); state != ProposalStateSucceeded {
		return fmt.Errorf("%w: cannot queue %s proposal", ErrWrongState, state)
	}

	operationID, err := s.timelock.Schedule(
		s.address, proposal.Calls, "", proposal.ID, s.timelock.MinDelay(),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule operation: %w", err)
	}
	proposal.OperationID = operationID
	if err := s.store.SaveProposal(proposal); err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	s.logger.Info("proposal queued",
		zap.String("proposal", proposalID),
		zap.String("operation", operationID),
	)
	return nil
}

// Execute triggers execution of a queued proposal's timelock operation. It
// fails before the delay elapses; once the grace period has expired the
// proposal reads as Expired and can only be re-proposed.
func (s *Service) Execute(proposalID string) error {
	s.mutex.Lock()
	proposal, err := s.getProposal(proposalID)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	if state := s.state(proposal); state != ProposalStateQueued {
		s.mutex.Unlock()
		return fmt.Errorf("%w: cannot execute %s proposal", ErrWrongState, state)
	}
	operationID := proposal.OperationID
	// The batch may call back into the service's own configuration
	// setters, so the lock cannot be held across dispatch.
	s.mutex.Unlock()

	if err := s.timelock.Execute(operationID); err != nil {
		return fmt.Errorf("operation execution failed: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err = s.getProposal(proposalID)
	if err != nil {
		return err
	}
	proposal.Executed = true
	if err := s.store.SaveProposal(proposal); err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	s.logger.Info("proposal executed", zap.String("proposal", proposalID))
	return nil
}

// Cancel cancels a proposal. The proposer may cancel while voting has not
// concluded; a canceler may cancel any time before execution. Canceling a
// queued proposal also cancels its timelock operation.
func (s *Service) Cancel(proposalID, caller string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return err
	}
	state := s.state(proposal)
	if state == ProposalStateExecuted || state == ProposalStateCanceled {
		return fmt.Errorf("%w: cannot cancel %s proposal", ErrWrongState, state)
	}

	switch {
	case s.timelock.IsCanceler(caller):
		// Cancelers may abort any time before execution.
	case caller == proposal.Proposer:
		if state != ProposalStatePending && state != ProposalStateActive {
			return fmt.Errorf("%w: proposer cannot cancel after voting concluded", ErrNotAuthorized)
		}
	default:
		return ErrNotAuthorized
	}

	proposal.Canceled = true
	if proposal.OperationID != "" && s.timelock.Status(proposal.OperationID) == timelock.StatusScheduled {
		if err := s.timelock.Cancel(s.address, proposal.OperationID); err != nil {
			return fmt.Errorf("failed to cancel operation: %w", err)
		}
	}
	if err := s.store.SaveProposal(proposal); err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	s.logger.Info("proposal canceled",
		zap.String("proposal", proposalID),
		zap.String("caller", caller),
	)
	return nil
}

// GetProposal returns a proposal by id.
func (s *Service) GetProposal(id string) (*Proposal, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.getProposal(id)
}

// ListProposals returns all proposals.
func (s *Service) ListProposals() ([]*Proposal, error) {
	return s.store.ListProposals()
}

func (s *Service) getProposal(id string) (*Proposal, error) {
	proposal, err := s.store.GetProposal(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	return proposal, nil
}

// PercentMajority returns the percent majority in effect at timepoint.
func (s *Service) PercentMajority(timepoint uint64) uint64 {
	return s.percentMajority.lookup(timepoint)
}

// QuorumBps returns the quorum (basis points) in effect at timepoint.
func (s *Service) QuorumBps(timepoint uint64) uint64 {
	return s.quorumBps.lookup(timepoint)
}

// VotingDelay returns the voting delay in effect at timepoint.
func (s *Service) VotingDelay(timepoint uint64) uint64 {
	return s.votingDelay.lookup(timepoint)
}

// VotingPeriod returns the voting period in effect at timepoint.
func (s *Service) VotingPeriod(timepoint uint64) uint64 {
	return s.votingPeriod.lookup(timepoint)
}

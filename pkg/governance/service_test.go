package governance_test

import (
	"testing"

	"agora/pkg/chain"
	"agora/pkg/governance"
	"agora/pkg/governance/store"
	"agora/pkg/modules"
	"agora/pkg/timelock"
	"agora/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	govAddr      = "0x00000000000000000000000000000000000000aa"
	execAddr     = "0x00000000000000000000000000000000000000ee"
	treasuryAddr = "0x00000000000000000000000000000000000000cc"
	cancelerAddr = "0x00000000000000000000000000000000000000c1"
	aliceAddr    = "0x0000000000000000000000000000000000000a01"
	bobAddr      = "0x0000000000000000000000000000000000000b02"
	carolAddr    = "0x0000000000000000000000000000000000000c03"
	outsiderAddr = "0x0000000000000000000000000000000000000f0f"
)

// treasuryTarget records dispatched calls and supports rollback, standing in
// for any module the governor's proposals act on.
type treasuryTarget struct {
	calls []string
}

func (tt *treasuryTarget) Call(sender string, value uint64, data []byte) error {
	if string(data) == "fail" {
		return assert.AnError
	}
	tt.calls = append(tt.calls, string(data))
	return nil
}

func (tt *treasuryTarget) Snapshot() func() {
	saved := append([]string(nil), tt.calls...)
	return func() { tt.calls = saved }
}

type fixture struct {
	clock    *chain.Counter
	ledger   *token.Ledger
	executor *timelock.Executor
	treasury *treasuryTarget
	service  *governance.Service
}

// newFixture wires a full governance stack at timepoint 100: alice holds 600
// votes, bob 300 and carol 100, the governor is an enabled module and a
// canceler on the executor, and both the governor and the executor answer
// self-calls on the router.
func newFixture(t *testing.T, config *governance.Config) *fixture {
	t.Helper()

	clock := chain.NewCounter(100)
	ledger := token.NewLedger(clock)
	require.NoError(t, ledger.Mint(aliceAddr, 600))
	require.NoError(t, ledger.Mint(bobAddr, 300))
	require.NoError(t, ledger.Mint(carolAddr, 100))

	registry := modules.NewRegistry()
	require.NoError(t, registry.Add(govAddr))
	router := timelock.NewRouter()
	executor, err := timelock.NewExecutor(
		execAddr, clock, registry, router, 10, 50,
		[]string{govAddr, cancelerAddr}, zap.NewNop(),
	)
	require.NoError(t, err)

	service, err := governance.NewService(
		govAddr, clock, ledger, store.NewMemoryStore(), executor, execAddr, config, zap.NewNop(),
	)
	require.NoError(t, err)
	require.NoError(t, router.Register(govAddr, service))

	treasury := &treasuryTarget{}
	require.NoError(t, router.Register(treasuryAddr, treasury))

	return &fixture{
		clock:    clock,
		ledger:   ledger,
		executor: executor,
		treasury: treasury,
		service:  service,
	}
}

func treasuryCalls(payloads ...string) []timelock.Call {
	calls := make([]timelock.Call, len(payloads))
	for i, payload := range payloads {
		calls[i] = timelock.Call{Target: treasuryAddr, Data: []byte(payload)}
	}
	return calls
}

func requireState(t *testing.T, f *fixture, id string, want governance.ProposalState) {
	t.Helper()
	state, err := f.service.State(id)
	require.NoError(t, err)
	require.Equal(t, want, state, "expected state %s, got %s", want, state)
}

func TestServiceProposalLifecycle(t *testing.T) {
	f := newFixture(t, governance.DefaultConfig())

	id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
	require.NoError(t, err)
	requireState(t, f, id, governance.ProposalStatePending)

	proposal, err := f.service.GetProposal(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), proposal.VoteStart)
	assert.Equal(t, uint64(210), proposal.VoteEnd)

	f.clock.Advance(10)
	requireState(t, f, id, governance.ProposalStateActive)

	weight, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), weight)
	_, err = f.service.CastVoteWithReason(bobAddr, id, governance.SupportAgainst, "too expensive")
	require.NoError(t, err)

	f.clock.Advance(101)
	requireState(t, f, id, governance.ProposalStateSucceeded)

	require.NoError(t, f.service.Queue(id))
	requireState(t, f, id, governance.ProposalStateQueued)

	err = f.service.Execute(id)
	require.ErrorIs(t, err, timelock.ErrTooEarly)

	f.clock.Advance(10)
	require.NoError(t, f.service.Execute(id))
	requireState(t, f, id, governance.ProposalStateExecuted)
	assert.Equal(t, []string{"grant"}, f.treasury.calls)

	proposal, err = f.service.GetProposal(id)
	require.NoError(t, err)
	assert.Equal(t, timelock.StatusExecuted, f.executor.Status(proposal.OperationID))
}

func TestServicePropose(t *testing.T) {
	f := newFixture(t, governance.DefaultConfig())

	t.Run("EmptyCalls", func(t *testing.T) {
		_, err := f.service.Propose(aliceAddr, nil, "nothing")
		assert.ErrorIs(t, err, governance.ErrEmptyProposal)
	})

	t.Run("DuplicateSubmission", func(t *testing.T) {
		_, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		require.NoError(t, err)
		_, err = f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		assert.ErrorIs(t, err, governance.ErrProposalExists)
	})

	t.Run("ChangedDescriptionIsNewProposal", func(t *testing.T) {
		id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant, take two")
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("UnknownProposal", func(t *testing.T) {
		_, err := f.service.State("deadbeef")
		assert.ErrorIs(t, err, governance.ErrProposalNotFound)
	})
}

func TestServiceCastVote(t *testing.T) {
	f := newFixture(t, governance.DefaultConfig())
	id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
	require.NoError(t, err)

	t.Run("BeforeVotingOpens", func(t *testing.T) {
		_, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
		assert.ErrorIs(t, err, governance.ErrVotingClosed)
	})

	t.Run("InvalidSupport", func(t *testing.T) {
		f.clock.Advance(10)
		_, err := f.service.CastVote(aliceAddr, id, governance.VoteSupport(7))
		assert.ErrorIs(t, err, governance.ErrInvalidSupport)
	})

	t.Run("DoubleVote", func(t *testing.T) {
		_, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		_, err = f.service.CastVote(aliceAddr, id, governance.SupportAgainst)
		assert.ErrorIs(t, err, governance.ErrAlreadyVoted)
	})

	t.Run("WeightSnapshottedAtVoteStart", func(t *testing.T) {
		// Weight moved after the snapshot cannot influence the tally.
		f.clock.Advance(5)
		require.NoError(t, f.ledger.Transfer(bobAddr, carolAddr, 300))

		weight, err := f.service.CastVote(carolAddr, id, governance.SupportAgainst)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), weight)

		weight, err = f.service.CastVote(bobAddr, id, governance.SupportAgainst)
		require.NoError(t, err)
		assert.Equal(t, uint64(300), weight)
	})

	t.Run("ZeroWeightVoterGetsReceipt", func(t *testing.T) {
		weight, err := f.service.CastVote(outsiderAddr, id, governance.SupportAbstain)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), weight)

		proposal, err := f.service.GetProposal(id)
		require.NoError(t, err)
		assert.Contains(t, proposal.Receipts, outsiderAddr)
	})

	t.Run("AfterDeadline", func(t *testing.T) {
		f.clock.Advance(200)
		_, err := f.service.CastVote(cancelerAddr, id, governance.SupportFor)
		assert.ErrorIs(t, err, governance.ErrVotingClosed)
	})
}

func TestServiceDefeatedPaths(t *testing.T) {
	t.Run("MajorityNotReached", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		require.NoError(t, err)
		f.clock.Advance(10)
		_, err = f.service.CastVote(bobAddr, id, governance.SupportAgainst)
		require.NoError(t, err)
		f.clock.Advance(101)

		requireState(t, f, id, governance.ProposalStateDefeated)
		assert.ErrorIs(t, f.service.Queue(id), governance.ErrWrongState)
	})

	t.Run("ExactTieFails", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		require.NoError(t, f.ledger.Mint(outsiderAddr, 300))
		id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		require.NoError(t, err)
		f.clock.Advance(10)
		_, err = f.service.CastVote(bobAddr, id, governance.SupportFor)
		require.NoError(t, err)
		_, err = f.service.CastVote(outsiderAddr, id, governance.SupportAgainst)
		require.NoError(t, err)
		f.clock.Advance(101)

		succeeded, err := f.service.VoteSucceeded(id)
		require.NoError(t, err)
		assert.False(t, succeeded)
		requireState(t, f, id, governance.ProposalStateDefeated)
	})

	t.Run("QuorumNotReached", func(t *testing.T) {
		config := governance.DefaultConfig()
		config.QuorumBps = 5000
		f := newFixture(t, config)
		id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		require.NoError(t, err)
		f.clock.Advance(10)
		_, err = f.service.CastVote(carolAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)

		reached, err := f.service.QuorumReached(id)
		require.NoError(t, err)
		assert.False(t, reached)
		requireState(t, f, id, governance.ProposalStateDefeated)
	})

	t.Run("AbstainExcludedFromQuorum", func(t *testing.T) {
		config := governance.DefaultConfig()
		config.QuorumBps = 5000
		config.AbstainCountsForQuorum = false
		f := newFixture(t, config)
		id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		require.NoError(t, err)
		f.clock.Advance(10)
		_, err = f.service.CastVote(carolAddr, id, governance.SupportFor)
		require.NoError(t, err)
		_, err = f.service.CastVote(aliceAddr, id, governance.SupportAbstain)
		require.NoError(t, err)

		reached, err := f.service.QuorumReached(id)
		require.NoError(t, err)
		assert.False(t, reached)
	})
}

func TestServiceQueueAndExpiry(t *testing.T) {
	f := newFixture(t, governance.DefaultConfig())
	id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
	require.NoError(t, err)

	t.Run("QueueWhileActive", func(t *testing.T) {
		f.clock.Advance(10)
		assert.ErrorIs(t, f.service.Queue(id), governance.ErrWrongState)
	})

	t.Run("DoubleQueue", func(t *testing.T) {
		_, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)
		require.NoError(t, f.service.Queue(id))
		assert.ErrorIs(t, f.service.Queue(id), governance.ErrWrongState)
	})

	t.Run("ExpiresAfterGracePeriod", func(t *testing.T) {
		// Queued at 211 with a 10 delay and 50 grace, so the window closes
		// at 271.
		f.clock.Advance(61)
		requireState(t, f, id, governance.ProposalStateExpired)
		assert.ErrorIs(t, f.service.Execute(id), governance.ErrWrongState)
	})
}

func TestServiceCancel(t *testing.T) {
	propose := func(t *testing.T, f *fixture) string {
		id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
		require.NoError(t, err)
		return id
	}

	t.Run("ProposerCancelsPending", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		id := propose(t, f)
		require.NoError(t, f.service.Cancel(id, aliceAddr))
		requireState(t, f, id, governance.ProposalStateCanceled)

		_, err := f.service.CastVote(bobAddr, id, governance.SupportFor)
		assert.ErrorIs(t, err, governance.ErrVotingClosed)
	})

	t.Run("OutsiderCannotCancel", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		id := propose(t, f)
		assert.ErrorIs(t, f.service.Cancel(id, outsiderAddr), governance.ErrNotAuthorized)
	})

	t.Run("ProposerCannotCancelAfterVoting", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		id := propose(t, f)
		f.clock.Advance(10)
		_, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)
		assert.ErrorIs(t, f.service.Cancel(id, aliceAddr), governance.ErrNotAuthorized)
	})

	t.Run("CancelerCancelsQueuedAndCascades", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		id := propose(t, f)
		f.clock.Advance(10)
		_, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)
		require.NoError(t, f.service.Queue(id))

		require.NoError(t, f.service.Cancel(id, cancelerAddr))
		requireState(t, f, id, governance.ProposalStateCanceled)

		proposal, err := f.service.GetProposal(id)
		require.NoError(t, err)
		assert.Equal(t, timelock.StatusCanceled, f.executor.Status(proposal.OperationID))
	})

	t.Run("CannotCancelExecuted", func(t *testing.T) {
		f := newFixture(t, governance.DefaultConfig())
		id := propose(t, f)
		f.clock.Advance(10)
		_, err := f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)
		require.NoError(t, f.service.Queue(id))
		f.clock.Advance(10)
		require.NoError(t, f.service.Execute(id))

		assert.ErrorIs(t, f.service.Cancel(id, cancelerAddr), governance.ErrWrongState)
	})
}

func TestServiceDeadlineExtension(t *testing.T) {
	f := newFixture(t, governance.DefaultConfig())
	id, err := f.service.Propose(aliceAddr, treasuryCalls("grant"), "fund the grant")
	require.NoError(t, err)

	// Voting runs 110..210, the decay window opens at 190.
	f.clock.Advance(10)
	_, err = f.service.CastVote(aliceAddr, id, governance.SupportFor)
	require.NoError(t, err)

	f.clock.Advance(90)
	_, err = f.service.CastVoteWithReason(bobAddr, id, governance.SupportAgainst, "last minute swing")
	require.NoError(t, err)

	proposal, err := f.service.GetProposal(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(222), proposal.Deadline())

	// Still active past the original deadline, and the late window still
	// accepts votes.
	f.clock.Advance(11)
	requireState(t, f, id, governance.ProposalStateActive)
	_, err = f.service.CastVote(carolAddr, id, governance.SupportFor)
	require.NoError(t, err)

	f.clock.Advance(15)
	requireState(t, f, id, governance.ProposalStateSucceeded)
}

func TestServiceParameterChanges(t *testing.T) {
	f := newFixture(t, governance.DefaultConfig())

	passAndExecute := func(t *testing.T, calls []timelock.Call, description string) error {
		t.Helper()
		id, err := f.service.Propose(aliceAddr, calls, description)
		require.NoError(t, err)
		f.clock.Advance(10)
		_, err = f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)
		require.NoError(t, f.service.Queue(id))
		f.clock.Advance(10)
		return f.service.Execute(id)
	}

	t.Run("QuorumRaisedThroughProposal", func(t *testing.T) {
		snapshotBefore := f.clock.Now()
		calls := []timelock.Call{{Target: govAddr, Data: governance.SetQuorumBpsCommand(1000)}}
		require.NoError(t, passAndExecute(t, calls, "raise quorum to 10%"))

		assert.Equal(t, uint64(1000), f.service.QuorumBps(f.clock.Now()))
		// Proposals snapshotted before the change keep reading the old value.
		assert.Equal(t, uint64(500), f.service.QuorumBps(snapshotBefore))
	})

	t.Run("DirectCallerRejected", func(t *testing.T) {
		err := f.service.Call(outsiderAddr, 0, governance.SetQuorumBpsCommand(1))
		assert.ErrorIs(t, err, governance.ErrNotAuthorized)
		err = f.service.Call(govAddr, 0, governance.SetQuorumBpsCommand(1))
		assert.ErrorIs(t, err, governance.ErrNotAuthorized)
	})

	t.Run("OutOfRangeValueFailsBatch", func(t *testing.T) {
		calls := []timelock.Call{{Target: govAddr, Data: governance.SetPercentMajorityCommand(40)}}
		err := passAndExecute(t, calls, "lower majority below half")
		assert.ErrorIs(t, err, governance.ErrPercentMajorityOutOfRange)
	})

	t.Run("FailedBatchRollsBackEarlierSetters", func(t *testing.T) {
		quorumBefore := f.service.QuorumBps(f.clock.Now())
		calls := []timelock.Call{
			{Target: govAddr, Data: governance.SetQuorumBpsCommand(2000)},
			{Target: treasuryAddr, Data: []byte("fail")},
		}
		id, err := f.service.Propose(aliceAddr, calls, "doomed batch")
		require.NoError(t, err)
		f.clock.Advance(10)
		_, err = f.service.CastVote(aliceAddr, id, governance.SupportFor)
		require.NoError(t, err)
		f.clock.Advance(101)
		require.NoError(t, f.service.Queue(id))
		f.clock.Advance(10)

		require.Error(t, f.service.Execute(id))
		assert.Equal(t, quorumBefore, f.service.QuorumBps(f.clock.Now()))
		assert.Empty(t, f.treasury.calls)

		// The operation survives the failed attempt and stays executable.
		requireState(t, f, id, governance.ProposalStateQueued)
	})

	t.Run("VotingWindowFollowsUpdatedParams", func(t *testing.T) {
		calls := []timelock.Call{
			{Target: govAddr, Data: governance.SetVotingDelayCommand(5)},
			{Target: govAddr, Data: governance.SetVotingPeriodCommand(40)},
		}
		require.NoError(t, passAndExecute(t, calls, "tighten the voting window"))

		id, err := f.service.Propose(aliceAddr, treasuryCalls("probe"), "window probe")
		require.NoError(t, err)
		proposal, err := f.service.GetProposal(id)
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now()+5, proposal.VoteStart)
		assert.Equal(t, f.clock.Now()+45, proposal.VoteEnd)
	})
}

func TestServiceConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*governance.Config)
		want   error
	}{
		{"MajorityBelowHalf", func(c *governance.Config) { c.PercentMajority = 49 }, governance.ErrPercentMajorityOutOfRange},
		{"MajorityAtHundred", func(c *governance.Config) { c.PercentMajority = 100 }, governance.ErrPercentMajorityOutOfRange},
		{"QuorumAboveFull", func(c *governance.Config) { c.QuorumBps = 10001 }, governance.ErrQuorumOutOfRange},
		{"ZeroVotingPeriod", func(c *governance.Config) { c.VotingPeriod = 0 }, governance.ErrInvalidVotingPeriod},
		{"ZeroDecayPeriod", func(c *governance.Config) { c.DecayPeriod = 0 }, governance.ErrInvalidDecaySchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := governance.DefaultConfig()
			tt.mutate(config)
			_, err := governance.NewService(
				govAddr, chain.NewCounter(0), token.NewLedger(chain.NewCounter(0)),
				store.NewMemoryStore(), nil, execAddr, config, zap.NewNop(),
			)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

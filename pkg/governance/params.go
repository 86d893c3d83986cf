package governance

import (
	"encoding/binary"
	"fmt"
)

// Governance command opcodes: a 1-byte opcode followed by an 8-byte
// big-endian value. These payloads target the governor's own address inside
// a timelocked operation; updated parameters only apply to proposals
// snapshotted after the operation executes.
const (
	opSetPercentMajority = 0x01
	opSetQuorumBps       = 0x02
	opSetVotingDelay     = 0x03
	opSetVotingPeriod    = 0x04
)

// Call applies a governance configuration command. Only the timelock
// executor's address is accepted as caller, so every parameter change must
// originate from a scheduled, delayed and executed operation.
func (s *Service) Call(sender string, value uint64, data []byte) error {
	if sender != s.executor {
		return ErrNotAuthorized
	}
	if len(data) != 9 {
		return ErrInvalidCommand
	}
	arg := binary.BigEndian.Uint64(data[1:])
	now := s.clock.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch data[0] {
	case opSetPercentMajority:
		if arg < 50 || arg >= 100 {
			return ErrPercentMajorityOutOfRange
		}
		return s.percentMajority.set(now, arg)
	case opSetQuorumBps:
		if arg > 10000 {
			return ErrQuorumOutOfRange
		}
		return s.quorumBps.set(now, arg)
	case opSetVotingDelay:
		return s.votingDelay.set(now, arg)
	case opSetVotingPeriod:
		if arg == 0 {
			return ErrInvalidVotingPeriod
		}
		return s.votingPeriod.set(now, arg)
	default:
		return fmt.Errorf("%w: opcode %d", ErrInvalidCommand, data[0])
	}
}

// Snapshot captures the four checkpointed parameters for batch rollback. A
// restored value is re-pushed at the captured timepoint, relying on the
// same-key overwrite semantics of the checkpoint store.
func (s *Service) Snapshot() func() {
	now := s.clock.Now()

	s.mutex.Lock()
	params := []*param{s.percentMajority, s.quorumBps, s.votingDelay, s.votingPeriod}
	seeded := make([]bool, len(params))
	values := make([]uint64, len(params))
	for i, p := range params {
		seeded[i] = p.store.Len() > 0
		values[i] = p.lookup(now)
	}
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		for i, p := range params {
			// A parameter the failed batch never seeded keeps reading its
			// initial scalar; one it touched gets the old value pinned
			// back at this timepoint, which reads the same everywhere.
			if seeded[i] || p.store.Len() > 0 {
				_ = p.store.Push(now, values[i])
			}
		}
	}
}

func command(opcode byte, value uint64) []byte {
	data := make([]byte, 9)
	data[0] = opcode
	binary.BigEndian.PutUint64(data[1:], value)
	return data
}

// SetPercentMajorityCommand encodes a command updating the percent
// majority.
func SetPercentMajorityCommand(percent uint64) []byte {
	return command(opSetPercentMajority, percent)
}

// SetQuorumBpsCommand encodes a command updating the quorum basis points.
func SetQuorumBpsCommand(bps uint64) []byte {
	return command(opSetQuorumBps, bps)
}

// SetVotingDelayCommand encodes a command updating the voting delay.
func SetVotingDelayCommand(delay uint64) []byte {
	return command(opSetVotingDelay, delay)
}

// SetVotingPeriodCommand encodes a command updating the voting period.
func SetVotingPeriodCommand(period uint64) []byte {
	return command(opSetVotingPeriod, period)
}

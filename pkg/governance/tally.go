package governance

import (
	"math"
	"math/bits"
)

// voteSucceeded checks the percent-majority rule: the true for/(for+against)
// ratio must strictly exceed percentMajority/100. The integer quotient alone
// cannot decide this: an exact tie (quotient equal, remainder zero) must
// fail, while a quotient equal to the threshold with a non-zero remainder is
// strictly above it and must pass.
func voteSucceeded(forVotes, againstVotes, percentMajority uint64) bool {
	den := forVotes + againstVotes
	if den == 0 {
		return false
	}
	hi, lo := bits.Mul64(forVotes, 100)
	quotient, remainder := bits.Div64(hi, lo, den)
	if quotient > percentMajority {
		return true
	}
	return quotient == percentMajority && remainder > 0
}

// quorumReached checks whether counted votes meet quorumBps of the total
// supply at the snapshot timepoint. Abstain weight counts only when
// configured to.
func quorumReached(forVotes, againstVotes, abstainVotes, quorumBps, pastSupply uint64, countAbstain bool) bool {
	counted := forVotes + againstVotes
	if countAbstain {
		counted += abstainVotes
	}
	hi, lo := bits.Mul64(pastSupply, quorumBps)
	needed, _ := bits.Div64(hi, lo, 10000)
	return counted >= needed
}

// voteMargin returns the signed distance between forVotes and the smallest
// forVotes that tips the majority threshold given againstVotes:
// ceil(P * against / (100 - P)). Positive means the proposal currently
// clears the threshold by that much weight; negative means it is short.
// Only the deadline extension rule consumes this, success is decided by
// voteSucceeded alone.
func voteMargin(forVotes, againstVotes, percentMajority uint64) int64 {
	hi, lo := bits.Mul64(againstVotes, percentMajority)
	if hi >= 100-percentMajority {
		// The tipping point exceeds any representable weight, so the
		// proposal is short by more than the margin can express.
		return math.MinInt64
	}
	tipping, remainder := bits.Div64(hi, lo, 100-percentMajority)
	if remainder > 0 {
		tipping++
	}
	if forVotes >= tipping {
		diff := forVotes - tipping
		if diff > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(diff)
	}
	diff := tipping - forVotes
	if diff > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(diff)
}

// extensionAmount computes the decayed deadline extension for a vote cast
// at now. decayStart is where the decay window opens; every full
// DecayPeriod elapsed since then sheds DecayPercent of BaseExtension. The
// result is capped at MaxExtension so repeated late votes never push the
// deadline further than MaxExtension past the original one.
func extensionAmount(cfg *Config, decayStart, now uint64) uint64 {
	if now < decayStart {
		return 0
	}
	periods := (now - decayStart) / cfg.DecayPeriod
	decay := periods * (cfg.BaseExtension * cfg.DecayPercent / 100)
	if decay >= cfg.BaseExtension {
		return 0
	}
	extension := cfg.BaseExtension - decay
	if extension > cfg.MaxExtension {
		extension = cfg.MaxExtension
	}
	return extension
}

// maybeExtendDeadline applies the dynamic deadline extension after a vote
// on p at now. The new deadline is always recomputed from the original
// VoteEnd, not the previously extended one, and only ever moves forward.
func maybeExtendDeadline(cfg *Config, p *Proposal, percentMajority uint64, now uint64) bool {
	if cfg.BaseExtension == 0 {
		return false
	}
	decayStart := p.VoteEnd
	if cfg.DecayWindow < decayStart {
		decayStart = p.VoteEnd - cfg.DecayWindow
	} else {
		decayStart = 0
	}
	if now < decayStart {
		return false
	}
	margin := voteMargin(p.ForVotes, p.AgainstVotes, percentMajority)
	if margin < 0 {
		margin = -margin
	}
	if uint64(margin) > cfg.MarginThreshold {
		return false
	}
	extension := extensionAmount(cfg, decayStart, now)
	if extension == 0 {
		return false
	}
	candidate := p.VoteEnd + extension
	if candidate <= p.Deadline() {
		return false
	}
	p.ExtendedDeadline = candidate
	return true
}

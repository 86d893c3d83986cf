package store

import (
	"sync"

	"agora/pkg/governance"
	"agora/pkg/timelock"
)

// MemoryStore is an in-memory implementation of ProposalStore
type MemoryStore struct {
	proposals map[string]*governance.Proposal
	mutex     sync.RWMutex
}

// NewMemoryStore creates a new memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]*governance.Proposal),
	}
}

func copyProposal(proposal *governance.Proposal) *governance.Proposal {
	copied := *proposal
	copied.Calls = make([]timelock.Call, len(proposal.Calls))
	for i, call := range proposal.Calls {
		call.Data = append([]byte(nil), call.Data...)
		copied.Calls[i] = call
	}
	copied.Receipts = make(map[string]*governance.VoteReceipt, len(proposal.Receipts))
	for voter, receipt := range proposal.Receipts {
		r := *receipt
		copied.Receipts[voter] = &r
	}
	return &copied
}

// SaveProposal saves a proposal to the store
func (s *MemoryStore) SaveProposal(proposal *governance.Proposal) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.proposals[proposal.ID] = copyProposal(proposal)
	return nil
}

// GetProposal retrieves a proposal by ID
func (s *MemoryStore) GetProposal(id string) (*governance.Proposal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if proposal, exists := s.proposals[id]; exists {
		return copyProposal(proposal), nil
	}
	return nil, nil
}

// ListProposals lists all proposals
func (s *MemoryStore) ListProposals() ([]*governance.Proposal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	proposals := make([]*governance.Proposal, 0, len(s.proposals))
	for _, proposal := range s.proposals {
		proposals = append(proposals, copyProposal(proposal))
	}
	return proposals, nil
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"agora/pkg/governance"
	"agora/pkg/timelock"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// proposalRecord is the persisted form of a proposal. Calls are stored as
// a JSON blob, receipts in their own table.
type proposalRecord struct {
	ID               string `gorm:"primaryKey"`
	Proposer         string
	Description      string
	Calls            []byte
	VoteStart        uint64
	VoteEnd          uint64
	ExtendedDeadline uint64
	ForVotes         uint64
	AgainstVotes     uint64
	AbstainVotes     uint64
	Canceled         bool
	Executed         bool
	OperationID      string
}

type receiptRecord struct {
	ProposalID string `gorm:"primaryKey"`
	Voter      string `gorm:"primaryKey"`
	Support    int
	Weight     uint64
	Reason     string
}

// SqliteStore is a SQLite-backed implementation of ProposalStore. An empty
// path opens a shared in-memory database, useful for testing.
type SqliteStore struct {
	db *gorm.DB
}

// NewSqliteStore opens (and migrates) a proposal store at path.
func NewSqliteStore(path string) (*SqliteStore, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open proposal store: %w", err)
	}
	if err := db.AutoMigrate(&proposalRecord{}, &receiptRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate proposal store: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

// SaveProposal saves or replaces a proposal and its receipts
func (s *SqliteStore) SaveProposal(proposal *governance.Proposal) error {
	calls, err := json.Marshal(proposal.Calls)
	if err != nil {
		return fmt.Errorf("failed to encode calls: %w", err)
	}
	record := &proposalRecord{
		ID:               proposal.ID,
		Proposer:         proposal.Proposer,
		Description:      proposal.Description,
		Calls:            calls,
		VoteStart:        proposal.VoteStart,
		VoteEnd:          proposal.VoteEnd,
		ExtendedDeadline: proposal.ExtendedDeadline,
		ForVotes:         proposal.ForVotes,
		AgainstVotes:     proposal.AgainstVotes,
		AbstainVotes:     proposal.AbstainVotes,
		Canceled:         proposal.Canceled,
		Executed:         proposal.Executed,
		OperationID:      proposal.OperationID,
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	for _, receipt := range proposal.Receipts {
		rec := &receiptRecord{
			ProposalID: proposal.ID,
			Voter:      receipt.Voter,
			Support:    int(receipt.Support),
			Weight:     receipt.Weight,
			Reason:     receipt.Reason,
		}
		if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error; err != nil {
			return fmt.Errorf("failed to save receipt: %w", err)
		}
	}
	return nil
}

// GetProposal retrieves a proposal by ID
func (s *SqliteStore) GetProposal(id string) (*governance.Proposal, error) {
	var record proposalRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return s.restore(&record)
}

// ListProposals lists all proposals
func (s *SqliteStore) ListProposals() ([]*governance.Proposal, error) {
	var records []proposalRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	proposals := make([]*governance.Proposal, 0, len(records))
	for i := range records {
		proposal, err := s.restore(&records[i])
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	return proposals, nil
}

func (s *SqliteStore) restore(record *proposalRecord) (*governance.Proposal, error) {
	var calls []timelock.Call
	if err := json.Unmarshal(record.Calls, &calls); err != nil {
		return nil, fmt.Errorf("failed to decode calls: %w", err)
	}
	var receipts []receiptRecord
	if err := s.db.Find(&receipts, "proposal_id = ?", record.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}
	proposal := &governance.Proposal{
		ID:               record.ID,
		Proposer:         record.Proposer,
		Description:      record.Description,
		Calls:            calls,
		VoteStart:        record.VoteStart,
		VoteEnd:          record.VoteEnd,
		ExtendedDeadline: record.ExtendedDeadline,
		ForVotes:         record.ForVotes,
		AgainstVotes:     record.AgainstVotes,
		AbstainVotes:     record.AbstainVotes,
		Canceled:         record.Canceled,
		Executed:         record.Executed,
		OperationID:      record.OperationID,
		Receipts:         make(map[string]*governance.VoteReceipt, len(receipts)),
	}
	for _, rec := range receipts {
		proposal.Receipts[rec.Voter] = &governance.VoteReceipt{
			Voter:   rec.Voter,
			Support: governance.VoteSupport(rec.Support),
			Weight:  rec.Weight,
			Reason:  rec.Reason,
		}
	}
	return proposal, nil
}

package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/interfaces"
	"github.com/ternarybob/siteaudit/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AuditStorage implements the AuditStore interface for Badger
type AuditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new AuditStorage instance
func NewAuditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditStore {
	return &AuditStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AuditStorage) CreateAudit(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		return fmt.Errorf("audit ID is required")
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

func (s *AuditStorage) CompleteAudit(ctx context.Context, auditID string, result *models.AuditResult) error {
	var record models.AuditRecord
	if err := s.db.Store().Get(auditID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("audit record not found: %s", auditID)
		}
		return fmt.Errorf("failed to get audit record: %w", err)
	}

	record.Status = models.JobStatusCompleted
	record.Result = result
	now := time.Now()
	record.CompletedAt = &now

	if err := s.db.Store().Upsert(record.ID, &record); err != nil {
		return fmt.Errorf("failed to complete audit record: %w", err)
	}
	return nil
}

func (s *AuditStorage) FailAudit(ctx context.Context, auditID string, errMsg string) error {
	var record models.AuditRecord
	if err := s.db.Store().Get(auditID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("audit record not found: %s", auditID)
		}
		return fmt.Errorf("failed to get audit record: %w", err)
	}

	record.Status = models.JobStatusFailed
	record.Error = errMsg
	now := time.Now()
	record.CompletedAt = &now

	if err := s.db.Store().Upsert(record.ID, &record); err != nil {
		return fmt.Errorf("failed to fail audit record: %w", err)
	}
	return nil
}

func (s *AuditStorage) GetAudit(ctx context.Context, auditID string) (*models.AuditRecord, error) {
	var record models.AuditRecord
	if err := s.db.Store().Get(auditID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("audit record not found: %s", auditID)
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return &record, nil
}

func (s *AuditStorage) ListAudits(ctx context.Context, domain string, limit int) ([]*models.AuditRecord, error) {
	query := badgerhold.Where("ID").Ne("")
	if domain != "" {
		query = badgerhold.Where("Domain").Eq(domain)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.AuditRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	result := make([]*models.AuditRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *AuditStorage) Close() error {
	return s.db.Close()
}

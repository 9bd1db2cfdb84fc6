package interfaces

import (
	"context"

	"github.com/ternarybob/siteaudit/internal/models"
)

// AuditStore is the durable ingestion sink for audit records. A record is
// created before the crawl starts and completed or failed afterwards; the
// on-disk run directory is only deleted once the final result is stored.
type AuditStore interface {
	CreateAudit(ctx context.Context, record *models.AuditRecord) error
	CompleteAudit(ctx context.Context, auditID string, result *models.AuditResult) error
	FailAudit(ctx context.Context, auditID string, errMsg string) error
	GetAudit(ctx context.Context, auditID string) (*models.AuditRecord, error)
	ListAudits(ctx context.Context, domain string, limit int) ([]*models.AuditRecord, error)
	Close() error
}

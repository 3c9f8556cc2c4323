package ports

import (
	"context"

	"github.com/Niakdashit/Tirages-jeux/domain/audit"
)

// RunLedger keeps the audit trail of processed files
type RunLedger interface {
	// Record appends one entry; entries are never updated
	Record(ctx context.Context, entry audit.RunEntry) error
	// List returns matching entries, most recent first
	List(ctx context.Context, q audit.Query) ([]audit.RunEntry, error)
}

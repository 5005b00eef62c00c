package storage

import (
	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
)

// AuditStore persists what the service published and served, and answers
// freshness questions about materialized pre-aggregations.
type AuditStore interface {
	catalog.VersionRecorder
	selection.Recorder
	selection.FreshnessChecker

	Close() error
}

// Package catalogstore defines read-only contracts for tracking reference data.
package catalogstore

import (
	"context"

	"github.com/cargolink/tracker/internal/domain"
)

// Store serves the milestone catalog and the source registry. Both are
// reference data: the core reads them, it never writes them.
type Store interface {
	Milestones(ctx context.Context) ([]domain.Milestone, error)
	MilestoneByCode(ctx context.Context, code string) (domain.Milestone, error)
	Sources(ctx context.Context) ([]domain.Source, error)
	SourceByID(ctx context.Context, id string) (domain.Source, error)
}

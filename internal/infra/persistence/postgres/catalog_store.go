package postgres

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
)

// CatalogStore serves the milestone catalog and source registry. Both tables
// are seed data, so rows are cached in-process after the first load.
type CatalogStore struct {
	pool *pgxpool.Pool

	mu         sync.RWMutex
	milestones map[string]domain.Milestone
	sources    map[string]domain.Source
}

// NewCatalogStore constructs a CatalogStore backed by the provided pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// Milestones returns the full milestone catalog ordered by sequence.
func (s *CatalogStore) Milestones(ctx context.Context) ([]domain.Milestone, error) {
	cache, err := s.loadMilestones(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Milestone, 0, len(cache))
	for _, m := range cache {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// MilestoneByCode looks up a single catalog entry.
func (s *CatalogStore) MilestoneByCode(ctx context.Context, code string) (domain.Milestone, error) {
	cache, err := s.loadMilestones(ctx)
	if err != nil {
		return domain.Milestone{}, err
	}
	milestone, ok := cache[code]
	if !ok {
		return domain.Milestone{}, errs.NotFound("catalog store", "milestone not found")
	}
	return milestone, nil
}

// Sources returns the source registry.
func (s *CatalogStore) Sources(ctx context.Context) ([]domain.Source, error) {
	cache, err := s.loadSources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Source, 0, len(cache))
	for _, src := range cache {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// SourceByID looks up a registered source.
func (s *CatalogStore) SourceByID(ctx context.Context, id string) (domain.Source, error) {
	cache, err := s.loadSources(ctx)
	if err != nil {
		return domain.Source{}, err
	}
	source, ok := cache[id]
	if !ok {
		return domain.Source{}, errs.NotFound("catalog store", "source not found")
	}
	return source, nil
}

func (s *CatalogStore) loadMilestones(ctx context.Context) (map[string]domain.Milestone, error) {
	s.mu.RLock()
	cached := s.milestones
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	rows, err := s.pool.Query(ctx, `
SELECT code, name, category, sequence_order, critical, expected_duration_minutes, sla_threshold_minutes
FROM milestones;`)
	if err != nil {
		return nil, errs.Store("catalog store", fmt.Errorf("load milestones: %w", err))
	}
	defer rows.Close()

	loaded := make(map[string]domain.Milestone)
	for rows.Next() {
		var (
			m        domain.Milestone
			category string
			expected pgtype.Int4
			sla      pgtype.Int4
		)
		if err := rows.Scan(&m.Code, &m.Name, &category, &m.SequenceOrder, &m.Critical, &expected, &sla); err != nil {
			return nil, errs.Store("catalog store", fmt.Errorf("scan milestone: %w", err))
		}
		m.Category = domain.MilestoneCategory(category)
		if expected.Valid {
			m.ExpectedDuration = time.Duration(expected.Int32) * time.Minute
		}
		if sla.Valid {
			m.SLAThreshold = time.Duration(sla.Int32) * time.Minute
		}
		loaded[m.Code] = m
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("catalog store", fmt.Errorf("iterate milestones: %w", err))
	}

	s.mu.Lock()
	s.milestones = loaded
	s.mu.Unlock()
	return loaded, nil
}

func (s *CatalogStore) loadSources(ctx context.Context) (map[string]domain.Source, error) {
	s.mu.RLock()
	cached := s.sources
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id, name, source_type, priority, active FROM sources;`)
	if err != nil {
		return nil, errs.Store("catalog store", fmt.Errorf("load sources: %w", err))
	}
	defer rows.Close()

	loaded := make(map[string]domain.Source)
	for rows.Next() {
		var (
			src        domain.Source
			sourceType string
		)
		if err := rows.Scan(&src.ID, &src.Name, &sourceType, &src.Priority, &src.Active); err != nil {
			return nil, errs.Store("catalog store", fmt.Errorf("scan source: %w", err))
		}
		src.Type = domain.SourceType(sourceType)
		loaded[src.ID] = src
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("catalog store", fmt.Errorf("iterate sources: %w", err))
	}

	s.mu.Lock()
	s.sources = loaded
	s.mu.Unlock()
	return loaded, nil
}

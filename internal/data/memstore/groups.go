package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// CreateGroup stores the group and its members, or nothing if any member is rejected.
func (s *Store) CreateGroup(_ context.Context, group *model.Group, jobs []*model.Job) error {
	if group == nil {
		return fmt.Errorf("group is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[group.ID]; ok {
		return apperrors.Conflictf("group %s already exists", group.ID)
	}
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j == nil {
			return fmt.Errorf("job is required")
		}
		if _, ok := s.jobs[j.ID]; ok || seen[j.ID] {
			return apperrors.Conflictf("job %s already exists", j.ID)
		}
		seen[j.ID] = true
	}

	g := *group
	s.groups[group.ID] = &g
	for _, j := range jobs {
		s.jobs[j.ID] = j.Clone()
		s.signalLocked(j.Type)
	}
	return nil
}

// GetGroup returns a copy of the group record.
func (s *Store) GetGroup(_ context.Context, id string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, model.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

// FinalizeGroup stamps the group once; later callers observe false.
func (s *Store) FinalizeGroup(_ context.Context, id string, degraded bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return false, model.ErrGroupNotFound
	}
	if g.FinalizedAt != nil {
		return false, nil
	}
	finalized := at
	g.FinalizedAt = &finalized
	g.Degraded = degraded
	return true, nil
}

// ListOpenGroups returns unfinalized groups created before the cutoff, oldest first.
func (s *Store) ListOpenGroups(_ context.Context, createdBefore time.Time, limit int) ([]*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Group
	for _, g := range s.groups {
		if g.FinalizedAt == nil && g.CreatedAt.Before(createdBefore) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Package memstore is an in-process job store for tests, local development and single-node runs.
// It honours the same claim, versioning and fan-in contracts as the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/job"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/queue"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// Options configure a Store.
type Options struct {
	Router *queue.Router
	// SkipRuleCatalog leaves the rule table empty instead of seeding the built-in catalog.
	SkipRuleCatalog bool
}

// Store keeps jobs, groups and rules in maps guarded by one mutex.
type Store struct {
	router  *queue.Router
	signals *queue.Broadcaster

	mu     sync.Mutex
	jobs   map[string]*model.Job
	groups map[string]*model.Group
	rules  map[string]*model.Rule
}

var (
	_ core.JobStore       = (*Store)(nil)
	_ core.RuleRepository = (*Store)(nil)
	_ job.Waiter          = (*Store)(nil)
)

// New creates an empty store.
func New(opts Options) *Store {
	router := opts.Router
	if router == nil {
		router = queue.MustDefaultRouter()
	}
	s := &Store{
		router:  router,
		signals: queue.NewBroadcaster(),
		jobs:    make(map[string]*model.Job),
		groups:  make(map[string]*model.Group),
		rules:   make(map[string]*model.Rule),
	}
	if !opts.SkipRuleCatalog {
		for _, r := range rules.DefaultCatalog() {
			cp := *r
			s.rules[r.ID] = &cp
		}
	}
	return s
}

// Create stores a copy of j.
func (s *Store) Create(_ context.Context, j *model.Job) error {
	if j == nil {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertLocked(j); err != nil {
		return err
	}
	s.signalLocked(j.Type)
	return nil
}

func (s *Store) insertLocked(j *model.Job) error {
	if _, ok := s.jobs[j.ID]; ok {
		return apperrors.Conflictf("job %s already exists", j.ID)
	}
	if gid := j.Group(); gid != "" {
		if _, ok := s.groups[gid]; !ok {
			return apperrors.Validation("referenced group does not exist")
		}
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// GetByID returns a copy of the job.
func (s *Store) GetByID(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Update replaces the stored job if its version still equals expectedVersion.
func (s *Store) Update(_ context.Context, j *model.Job, expectedVersion int64) error {
	if j == nil {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[j.ID]
	if !ok {
		return model.ErrJobNotFound
	}
	if cur.Version != expectedVersion {
		return apperrors.ErrConcurrencyConflict
	}
	next := j.Clone()
	next.Version = expectedVersion + 1
	s.jobs[j.ID] = next
	j.Version = next.Version
	return nil
}

// ClaimNext promotes due retries then claims the best eligible PENDING job.
func (s *Store) ClaimNext(_ context.Context, params core.ClaimParams) (*model.Job, error) {
	wanted := make(map[model.JobType]bool, len(params.Types))
	for _, t := range params.Types {
		wanted[t] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Job
	for _, j := range s.jobs {
		if !wanted[j.Type] || j.ScheduledAt.After(params.Now) {
			continue
		}
		if j.Status == model.JobStatusRetrying {
			if err := job.Promote(j, params.Now); err != nil {
				continue
			}
			j.Version++
		}
		if j.Status != model.JobStatusPending {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, model.ErrNoJobsAvailable
	}
	if err := job.Claim(best, params.Now, params.Lease); err != nil {
		return nil, err
	}
	best.Version++
	return best.Clone(), nil
}

// claimsBefore orders by priority weight desc, then creation time, then id.
func claimsBefore(a, b *model.Job) bool {
	if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
		return wa > wb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Heartbeat extends the lease of a PROCESSING job still on attempt.
func (s *Store) Heartbeat(_ context.Context, id string, attempt int, leaseExpiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing || j.Attempt != attempt {
		return false, nil
	}
	lease := leaseExpiresAt
	j.LeaseExpiresAt = &lease
	j.Version++
	return true, nil
}

// ListByGroup returns the group's members in creation order.
func (s *Store) ListByGroup(_ context.Context, groupID string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filterLocked(func(j *model.Job) bool { return j.Group() == groupID })
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

// ListBySubject returns a subject's jobs by completion time, unfinished jobs last.
func (s *Store) ListBySubject(_ context.Context, subjectID string, statuses ...model.JobStatus) ([]*model.Job, error) {
	allowed := make(map[model.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filterLocked(func(j *model.Job) bool {
		return j.Subject() == subjectID && (len(allowed) == 0 || allowed[j.Status])
	})
	sort.Slice(out, func(i, k int) bool {
		a, b := out[i].CompletedAt, out[k].CompletedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[k].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return out[i].ID < out[k].ID
		}
	})
	return out, nil
}

// ListExpiredLeases returns PROCESSING jobs whose lease lapsed before now.
func (s *Store) ListExpiredLeases(_ context.Context, now time.Time, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filterLocked(func(j *model.Job) bool {
		return j.Status == model.JobStatusProcessing && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
	})
	sort.Slice(out, func(i, k int) bool { return out[i].LeaseExpiresAt.Before(*out[k].LeaseExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats counts jobs per status.
func (s *Store) Stats(_ context.Context) (*model.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st model.JobStats
	for _, j := range s.jobs {
		switch j.Status {
		case model.JobStatusPending:
			st.Pending++
		case model.JobStatusProcessing:
			st.Processing++
		case model.JobStatusRetrying:
			st.Retrying++
		case model.JobStatusCompleted:
			st.Completed++
		case model.JobStatusFailed:
			st.Failed++
		case model.JobStatusCancelled:
			st.Cancelled++
		}
	}
	st.ComputeSuccessRate()
	return &st, nil
}

func (s *Store) filterLocked(keep func(*model.Job) bool) []*model.Job {
	var out []*model.Job
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	return out
}

// DeleteOldJobs removes up to BatchSize terminal jobs completed before params.Before.
func (s *Store) DeleteOldJobs(_ context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to delete non-terminal jobs: %s", params.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if params.BatchSize > 0 && n >= int64(params.BatchSize) {
			break
		}
		ended := j.UpdatedAt
		if j.CompletedAt != nil {
			ended = *j.CompletedAt
		}
		if j.Status == params.Status && ended.Before(params.Before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// DeleteEmptyGroups removes finalized groups with no remaining members.
func (s *Store) DeleteEmptyGroups(_ context.Context, finalizedBefore time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make(map[string]bool)
	for _, j := range s.jobs {
		if gid := j.Group(); gid != "" {
			members[gid] = true
		}
	}
	var n int64
	for id, g := range s.groups {
		if batchSize > 0 && n >= int64(batchSize) {
			break
		}
		if g.FinalizedAt != nil && g.FinalizedAt.Before(finalizedBefore) && !members[id] {
			delete(s.groups, id)
			n++
		}
	}
	return n, nil
}

// WaitForNotification blocks until a job is stored for queue q or ctx ends.
func (s *Store) WaitForNotification(ctx context.Context, q model.QueueName) error {
	return s.signals.Wait(ctx, q)
}

// signalLocked wakes every waiter on the job type's queue.
func (s *Store) signalLocked(t model.JobType) {
	s.signals.Signal(s.router.QueueFor(t))
}

// Package queue maps job types onto the engine's logical dispatch queues.
package queue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// ErrUnmappedJobType is returned when a job type has no queue assignment.
var ErrUnmappedJobType = errors.New("job type is not mapped to a queue")

// Route is the dispatch placement of one job type. DefaultPriority applies when a
// create request does not name a priority.
type Route struct {
	Queue           model.QueueName
	DefaultPriority model.Priority
}

// Weight is the numeric dispatch weight of the route's default priority.
func (r Route) Weight() int { return r.DefaultPriority.Weight() }

// Router is a fixed jobType → queue table.
type Router struct {
	routes map[model.JobType]Route
}

// DefaultTable is the production routing table.
func DefaultTable() map[model.JobType]Route {
	return map[model.JobType]Route{
		model.JobTypeIdentityVerification: {Queue: model.QueueIdentity, DefaultPriority: model.PriorityNormal},
		model.JobTypeReviewReminder:       {Queue: model.QueueIdentity, DefaultPriority: model.PriorityNormal},
		model.JobTypeScreening:            {Queue: model.QueueScreening, DefaultPriority: model.PriorityHigh},
		model.JobTypeRiskScoring:          {Queue: model.QueueScreening, DefaultPriority: model.PriorityHigh},
		model.JobTypeAlertGeneration:      {Queue: model.QueueScreening, DefaultPriority: model.PriorityHigh},
		model.JobTypeDocumentOCR:          {Queue: model.QueueDocument, DefaultPriority: model.PriorityNormal},
		model.JobTypeDocumentVerification: {Queue: model.QueueDocument, DefaultPriority: model.PriorityNormal},
		model.JobTypeDocumentExpiryCheck:  {Queue: model.QueueDocument, DefaultPriority: model.PriorityNormal},
		model.JobTypeRulesExecution:       {Queue: model.QueueRules, DefaultPriority: model.PriorityNormal},
	}
}

// NewRouter builds a router from table and validates that every known job type is mapped.
func NewRouter(table map[model.JobType]Route) (*Router, error) {
	r := &Router{routes: make(map[model.JobType]Route, len(table))}
	for jt, route := range table {
		if !jt.Valid() {
			return nil, fmt.Errorf("route for unknown job type %q", jt)
		}
		if route.Queue == "" {
			return nil, fmt.Errorf("job type %s: empty queue name", jt)
		}
		if !route.DefaultPriority.Valid() {
			route.DefaultPriority = model.PriorityNormal
		}
		r.routes[jt] = route
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// MustDefaultRouter returns the production router and panics if the table is incomplete.
func MustDefaultRouter() *Router {
	r, err := NewRouter(DefaultTable())
	if err != nil {
		panic(err) //nolint:forbidigo // static table; an incomplete mapping is a programming error
	}
	return r
}

// Validate checks that every enumerated job type maps to exactly one queue.
func (r *Router) Validate() error {
	var missing []error
	for _, jt := range model.AllJobTypes() {
		if _, ok := r.routes[jt]; !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrUnmappedJobType, jt))
		}
	}
	return errors.Join(missing...)
}

// Route returns the placement for jobType.
func (r *Router) Route(jobType model.JobType) (Route, error) {
	route, ok := r.routes[jobType]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnmappedJobType, jobType)
	}
	return route, nil
}

// QueueFor returns the queue name for jobType, or empty when unmapped.
func (r *Router) QueueFor(jobType model.JobType) model.QueueName {
	return r.routes[jobType].Queue
}

// TypesFor lists the job types dispatched from queue, sorted for stable SQL arguments.
func (r *Router) TypesFor(queue model.QueueName) []model.JobType {
	var out []model.JobType
	for jt, route := range r.routes {
		if route.Queue == queue {
			out = append(out, jt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Queues lists the distinct queues in the table, sorted.
func (r *Router) Queues() []model.QueueName {
	seen := make(map[model.QueueName]struct{})
	var out []model.QueueName
	for _, route := range r.routes {
		if _, ok := seen[route.Queue]; ok {
			continue
		}
		seen[route.Queue] = struct{}{}
		out = append(out, route.Queue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

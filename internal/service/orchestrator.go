package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	"github.com/sa32552/regtech-engine/internal/domain/risk"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
	"github.com/sa32552/regtech-engine/internal/observability/metrics"
)

const (
	// DefaultAlertThreshold is the score at or above which an alert job is enqueued.
	DefaultAlertThreshold = 60
	// DefaultAlertWindow is the per-subject alert dedupe window.
	DefaultAlertWindow = time.Hour
	// ExpiryCheckLead is how long before a document expires its check runs.
	ExpiryCheckLead = 30 * 24 * time.Hour

	riskCacheKeyPrefix = "regtech:risk:"
)

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Store          core.JobStore         // Required: jobs and groups
	Jobs           *JobService           // Required: job construction and queue wakeups
	Logger         *slog.Logger          // Optional: structured logger
	Events         core.EventSink        // Optional: group and alert events
	Gate           core.AlertGate        // Optional: per-subject alert dedupe; nil admits every alert
	Cache          core.CacheRepository  // Optional: risk assessment snapshot cache
	CacheTTL       time.Duration         // Optional: zero disables the snapshot cache
	AlertThreshold int                   // Optional: defaults to DefaultAlertThreshold
	AlertWindow    time.Duration         // Optional: defaults to DefaultAlertWindow
	Metrics        *metrics.Engine       // Optional: Prometheus collectors
}

// Orchestrator fans triggers out into job groups and fans completed groups back in.
type Orchestrator struct {
	store     core.JobStore
	jobs      *JobService
	clock     core.Clock
	logger    *slog.Logger
	events    core.EventSink
	gate      core.AlertGate
	cache     core.CacheRepository
	cacheTTL  time.Duration
	threshold int
	window    time.Duration
	metrics   *metrics.Engine
	flight    singleflight.Group
}

var (
	_ TerminalObserver  = (*Orchestrator)(nil)
	_ core.RiskAssessor = (*Orchestrator)(nil)
)

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	window := opts.AlertWindow
	if window <= 0 {
		window = DefaultAlertWindow
	}
	return &Orchestrator{
		store:     opts.Store,
		jobs:      opts.Jobs,
		clock:     opts.Jobs.Clock(),
		logger:    logger.With("component", "orchestrator"),
		events:    opts.Events,
		gate:      opts.Gate,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		threshold: threshold,
		window:    window,
		metrics:   opts.Metrics,
	}, nil
}

// KYCRequest carries the inputs of the kyc trigger.
type KYCRequest struct {
	Identity  processors.IdentityInput
	Screening processors.ScreeningInput
}

type jobSpec struct {
	Type        model.JobType
	Priority    model.Priority
	Input       any
	ScheduledAt *time.Time
}

// StartKYC spawns identity verification and screening for subjectID.
func (o *Orchestrator) StartKYC(ctx context.Context, subjectID string, req KYCRequest) (*model.TriggerResult, error) {
	return o.launch(ctx, model.TriggerKYC, subjectID, []jobSpec{
		{Type: model.JobTypeIdentityVerification, Priority: model.PriorityNormal, Input: req.Identity},
		{Type: model.JobTypeScreening, Priority: model.PriorityHigh, Input: req.Screening},
	})
}

// StartScreening spawns a standalone screening for subjectID.
func (o *Orchestrator) StartScreening(
	ctx context.Context,
	subjectID string,
	in processors.ScreeningInput,
) (*model.TriggerResult, error) {
	return o.launch(ctx, model.TriggerScreening, subjectID, []jobSpec{
		{Type: model.JobTypeScreening, Priority: model.PriorityHigh, Input: in},
	})
}

// StartDocument spawns OCR and verification of one document.
func (o *Orchestrator) StartDocument(
	ctx context.Context,
	subjectID string,
	in processors.DocumentInput,
) (*model.TriggerResult, error) {
	if strings.TrimSpace(in.DocumentID) == "" {
		return nil, apperrors.ValidationField("documentId", "document id is required")
	}
	return o.launch(ctx, model.TriggerDocument, subjectID, []jobSpec{
		{Type: model.JobTypeDocumentOCR, Priority: model.PriorityNormal, Input: in},
		{Type: model.JobTypeDocumentVerification, Priority: model.PriorityNormal, Input: in},
	})
}

// RunRules spawns a rules execution for subjectID.
func (o *Orchestrator) RunRules(ctx context.Context, subjectID string, in processors.RulesInput) (*model.TriggerResult, error) {
	return o.launch(ctx, model.TriggerRules, subjectID, []jobSpec{
		{Type: model.JobTypeRulesExecution, Priority: model.PriorityNormal, Input: in},
	})
}

// ScoreRisk spawns a RISK_SCORING snapshot job.
func (o *Orchestrator) ScoreRisk(ctx context.Context, subjectID string) (*model.TriggerResult, error) {
	return o.launch(ctx, model.TriggerRiskScoring, subjectID, []jobSpec{
		{Type: model.JobTypeRiskScoring, Priority: model.PriorityHigh, Input: processors.RiskScoringInput{ClientID: subjectID}},
	})
}

// RaiseAlert spawns an ALERT_GENERATION job.
func (o *Orchestrator) RaiseAlert(ctx context.Context, subjectID string, data model.AlertData) (*model.TriggerResult, error) {
	return o.launch(ctx, model.TriggerAlert, subjectID, []jobSpec{
		{Type: model.JobTypeAlertGeneration, Priority: model.PriorityHigh, Input: processors.AlertInput{ClientID: subjectID, AlertData: data}},
	})
}

// ScheduleReviewReminder schedules a REVIEW_REMINDER to run at reviewDate.
func (o *Orchestrator) ScheduleReviewReminder(
	ctx context.Context,
	subjectID string,
	reviewDate time.Time,
) (*model.TriggerResult, error) {
	if reviewDate.IsZero() {
		return nil, apperrors.ValidationField("reviewDate", "review date is required")
	}
	at := reviewDate.UTC()
	return o.launch(ctx, model.TriggerReviewReminder, subjectID, []jobSpec{{
		Type:        model.JobTypeReviewReminder,
		Priority:    model.PriorityNormal,
		Input:       processors.ReviewReminderInput{ClientID: subjectID, ReviewDate: &at},
		ScheduledAt: &at,
	}})
}

// ScheduleDocumentExpiryCheck schedules a DOCUMENT_EXPIRY_CHECK 30 days before expiry,
// or immediately when that moment has already passed. subjectID may be empty.
func (o *Orchestrator) ScheduleDocumentExpiryCheck(
	ctx context.Context,
	subjectID, documentID string,
	expiry time.Time,
) (*model.TriggerResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, apperrors.ValidationField("documentId", "document id is required")
	}
	if expiry.IsZero() {
		return nil, apperrors.ValidationField("expiryDate", "expiry date is required")
	}
	at := expiry.UTC().Add(-ExpiryCheckLead)
	if now := o.clock.Now(); at.Before(now) {
		at = now
	}
	return o.launch(ctx, model.TriggerDocumentExpiry, subjectID, []jobSpec{{
		Type:        model.JobTypeDocumentExpiryCheck,
		Priority:    model.PriorityNormal,
		Input:       processors.ExpiryInput{ClientID: subjectID, DocumentID: documentID, ExpiryDate: expiry.UTC()},
		ScheduledAt: &at,
	}})
}

// launch creates the group and its members in one store transaction, then wakes their queues.
func (o *Orchestrator) launch(
	ctx context.Context,
	trigger model.Trigger,
	subjectID string,
	specs []jobSpec,
) (*model.TriggerResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" && trigger != model.TriggerDocumentExpiry {
		return nil, apperrors.ValidationField("subjectId", "subject id is required")
	}

	group := &model.Group{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		CreatedAt: o.clock.Now(),
	}
	var subject *string
	if subjectID != "" {
		subject = &subjectID
		group.SubjectID = subject
	}

	jobs := make([]*model.Job, 0, len(specs))
	for _, spec := range specs {
		input, err := json.Marshal(spec.Input)
		if err != nil {
			return nil, fmt.Errorf("encode %s input: %w", spec.Type, err)
		}
		job, err := o.jobs.NewJob(&model.CreateJobRequest{
			Type:        spec.Type,
			Priority:    spec.Priority,
			SubjectID:   subject,
			GroupID:     &group.ID,
			Input:       input,
			ScheduledAt: spec.ScheduledAt,
		})
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := o.store.CreateGroup(ctx, group, jobs); err != nil {
		return nil, fmt.Errorf("create %s group: %w", trigger, err)
	}

	res := &model.TriggerResult{GroupID: group.ID, JobIDs: make([]string, 0, len(jobs))}
	for _, j := range jobs {
		res.JobIDs = append(res.JobIDs, j.ID)
		o.jobs.Notify(o.jobs.Router().QueueFor(j.Type))
	}

	o.logger.InfoContext(ctx, "orchestration started",
		"trigger", trigger,
		"group_id", group.ID,
		"subject_id", subjectID,
		"jobs", len(jobs),
	)
	return res, nil
}

// GetGroupStatus returns a consistent view of a group and its members.
//
// The group is read before its members, in two store calls. Members are created with
// the group and terminal statuses are absorbing, so a member read can only be at least
// as advanced as the group read: a finalized group always sees terminal members, and
// an unfinalized one reports Complete and Degraded from the members it just read.
func (o *Orchestrator) GetGroupStatus(ctx context.Context, groupID string) (*model.GroupStatus, error) {
	group, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, model.ErrGroupNotFound) {
			return nil, apperrors.NotFoundf("group %s not found", groupID)
		}
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}
	members, err := o.store.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group %s members: %w", groupID, err)
	}

	st := &model.GroupStatus{
		GroupID:     group.ID,
		SubjectID:   group.SubjectID,
		Trigger:     group.Trigger,
		Degraded:    group.Degraded,
		FinalizedAt: group.FinalizedAt,
		Members:     make([]model.GroupMember, 0, len(members)),
	}
	for _, m := range members {
		st.Members = append(st.Members, model.GroupMember{JobID: m.ID, Type: m.Type, Status: m.Status, Attempt: m.Attempt})
		if m.Status.Terminal() {
			st.Terminal++
		} else {
			st.Pending++
		}
	}
	st.Complete = len(members) > 0 && st.Pending == 0
	if !group.Finalized() && st.Complete {
		st.Degraded = degradedMembers(members)
	}
	return st, nil
}

// JobTerminal drops the subject's cached assessment when the job completed, then
// re-evaluates the job's group. Errors are logged; the reaper's group sweep retries
// any fan-in lost here.
func (o *Orchestrator) JobTerminal(ctx context.Context, job *model.Job) {
	// Any completed output can move the subject's score, grouped or not.
	if job.Status == model.JobStatusCompleted {
		if subjectID := job.Subject(); subjectID != "" {
			o.invalidate(ctx, subjectID)
		}
	}
	groupID := job.Group()
	if groupID == "" {
		return
	}
	if _, err := o.tryFinalize(ctx, groupID); err != nil {
		o.logger.WarnContext(ctx, "group fan-in check failed", "group_id", groupID, "job_id", job.ID, "error", err)
	}
}

// SweepGroups re-checks open groups created before cutoff and finalizes the complete ones.
func (o *Orchestrator) SweepGroups(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	groups, err := o.store.ListOpenGroups(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list open groups: %w", err)
	}
	var finalized int64
	var errs []error
	for _, g := range groups {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		won, err := o.tryFinalize(ctx, g.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", g.ID, err))
			continue
		}
		if won {
			finalized++
		}
	}
	return finalized, errors.Join(errs...)
}

// tryFinalize finalizes groupID if every member is terminal. It returns true only for the
// caller whose conditional update won.
func (o *Orchestrator) tryFinalize(ctx context.Context, groupID string) (bool, error) {
	group, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if group.Finalized() {
		return false, nil
	}
	members, err := o.store.ListByGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}
	for _, m := range members {
		if !m.Status.Terminal() {
			return false, nil
		}
	}

	degraded := degradedMembers(members)
	now := o.clock.Now()
	won, err := o.store.FinalizeGroup(ctx, groupID, degraded, now)
	if err != nil || !won {
		return false, err
	}
	group.Degraded = degraded
	group.FinalizedAt = &now

	o.completeGroup(ctx, group, members)
	return true, nil
}

func (o *Orchestrator) completeGroup(ctx context.Context, group *model.Group, members []*model.Job) {
	subjectID := ""
	if group.SubjectID != nil {
		subjectID = *group.SubjectID
	}
	o.metrics.ObserveGroupCompleted(string(group.Trigger), group.Degraded)

	ev := model.Event{
		Type:       model.EventGroupCompleted,
		GroupID:    group.ID,
		SubjectID:  subjectID,
		Status:     "COMPLETED",
		Message:    string(group.Trigger),
		OccurredAt: *group.FinalizedAt,
		Attributes: map[string]any{
			"trigger":  string(group.Trigger),
			"degraded": group.Degraded,
			"members":  len(members),
		},
	}

	var assessment *model.RiskAssessment
	if group.Trigger.Aggregates() && subjectID != "" {
		o.invalidate(ctx, subjectID)
		a, err := o.ComputeRiskAssessment(ctx, subjectID)
		if err != nil {
			o.logger.WarnContext(ctx, "risk aggregation failed", "group_id", group.ID, "subject_id", subjectID, "error", err)
		} else {
			assessment = a
			ev.Attributes["risk_score"] = a.Score
			ev.Attributes["risk_level"] = string(a.Level)
		}
	}

	o.logger.InfoContext(ctx, "group completed",
		"group_id", group.ID,
		"trigger", group.Trigger,
		"degraded", group.Degraded,
		"members", len(members),
	)
	o.publish(ctx, ev)

	if assessment != nil && assessment.Score >= o.threshold {
		o.raiseThresholdAlert(ctx, group, assessment)
	}
}

func (o *Orchestrator) raiseThresholdAlert(ctx context.Context, group *model.Group, a *model.RiskAssessment) {
	ok, err := o.acquireAlert(ctx, a.SubjectID)
	if err != nil {
		o.logger.WarnContext(ctx, "alert gate unavailable, raising anyway", "subject_id", a.SubjectID, "error", err)
		ok = true
	}
	if !ok {
		o.logger.DebugContext(ctx, "alert suppressed within dedupe window", "subject_id", a.SubjectID, "score", a.Score)
		return
	}

	msg := fmt.Sprintf("Risk score %d reached threshold %d", a.Score, o.threshold)
	res, err := o.RaiseAlert(ctx, a.SubjectID, model.AlertData{
		Type:     model.AlertTypeRiskThreshold,
		Severity: a.Level,
		Message:  msg,
		Details: map[string]any{
			"riskScore":     a.Score,
			"riskLevel":     string(a.Level),
			"sourceGroupId": group.ID,
			"factors":       len(a.ContributingFactors),
		},
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "enqueue alert failed", "subject_id", a.SubjectID, "error", err)
		return
	}
	o.metrics.IncAlert()
	o.publish(ctx, model.Event{
		Type:       model.EventAlertRaised,
		GroupID:    res.GroupID,
		SubjectID:  a.SubjectID,
		Severity:   a.Level,
		Message:    msg,
		OccurredAt: o.clock.Now(),
		Attributes: map[string]any{
			"risk_score":      a.Score,
			"source_group_id": group.ID,
			"alert_job_id":    firstOrEmpty(res.JobIDs),
		},
	})
}

func (o *Orchestrator) acquireAlert(ctx context.Context, subjectID string) (bool, error) {
	if o.gate == nil {
		return true, nil
	}
	return o.gate.Acquire(ctx, subjectID, o.window)
}

// ComputeRiskAssessment aggregates the subject's completed jobs. Concurrent calls for the
// same subject share one computation.
func (o *Orchestrator) ComputeRiskAssessment(ctx context.Context, subjectID string) (*model.RiskAssessment, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, apperrors.ValidationField("subjectId", "subject id is required")
	}
	if cached := o.cached(ctx, subjectID); cached != nil {
		return cached, nil
	}

	v, err, _ := o.flight.Do(subjectID, func() (any, error) {
		jobs, err := o.store.ListBySubject(ctx, subjectID, model.JobStatusCompleted)
		if err != nil {
			return nil, fmt.Errorf("list completed jobs for %s: %w", subjectID, err)
		}
		a := risk.Aggregate(subjectID, jobs)
		o.metrics.ObserveRiskScore(a.Score)
		o.remember(ctx, &a)
		return &a, nil
	})
	if err != nil {
		return nil, err
	}
	a := *v.(*model.RiskAssessment)
	a.ContributingFactors = append([]model.RiskFactor(nil), a.ContributingFactors...)
	return &a, nil
}

func (o *Orchestrator) cached(ctx context.Context, subjectID string) *model.RiskAssessment {
	if o.cache == nil || o.cacheTTL <= 0 {
		return nil
	}
	raw, err := o.cache.Get(ctx, riskCacheKeyPrefix+subjectID)
	if err != nil || raw == nil {
		return nil
	}
	var a model.RiskAssessment
	if json.Unmarshal(raw, &a) != nil {
		return nil
	}
	return &a
}

func (o *Orchestrator) remember(ctx context.Context, a *model.RiskAssessment) {
	if o.cache == nil || o.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, riskCacheKeyPrefix+a.SubjectID, raw, o.cacheTTL); err != nil {
		o.logger.DebugContext(ctx, "cache risk assessment", "subject_id", a.SubjectID, "error", err)
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, subjectID string) {
	if o.cache == nil || o.cacheTTL <= 0 {
		return
	}
	if _, err := o.cache.Delete(ctx, riskCacheKeyPrefix+subjectID); err != nil {
		o.logger.DebugContext(ctx, "invalidate risk assessment", "subject_id", subjectID, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev model.Event) {
	if o.events != nil {
		o.events.Publish(ctx, ev)
	}
}

// degradedMembers reports whether any member failed, was cancelled, or completed degraded.
func degradedMembers(members []*model.Job) bool {
	for _, m := range members {
		switch m.Status {
		case model.JobStatusFailed, model.JobStatusCancelled:
			return true
		case model.JobStatusCompleted:
			var d model.DegradedResult
			if json.Unmarshal(m.Output, &d) == nil && d.Degraded {
				return true
			}
		}
	}
	return false
}

func firstOrEmpty(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

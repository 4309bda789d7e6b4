package queue

import (
	"testing"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRouterCoversEveryJobType(t *testing.T) {
	r, err := NewRouter(DefaultTable())
	require.NoError(t, err)

	for _, jt := range model.AllJobTypes() {
		route, err := r.Route(jt)
		require.NoError(t, err, jt)
		assert.NotEmpty(t, route.Queue)
		assert.True(t, route.DefaultPriority.Valid())
	}
}

func TestDefaultRouterPlacement(t *testing.T) {
	r := MustDefaultRouter()

	assert.Equal(t, []model.JobType{model.JobTypeIdentityVerification, model.JobTypeReviewReminder},
		r.TypesFor(model.QueueIdentity))
	assert.Equal(t, []model.JobType{model.JobTypeAlertGeneration, model.JobTypeRiskScoring, model.JobTypeScreening},
		r.TypesFor(model.QueueScreening))
	assert.Equal(t, []model.JobType{model.JobTypeDocumentExpiryCheck, model.JobTypeDocumentOCR, model.JobTypeDocumentVerification},
		r.TypesFor(model.QueueDocument))
	assert.Equal(t, []model.JobType{model.JobTypeRulesExecution}, r.TypesFor(model.QueueRules))
	assert.ElementsMatch(t, model.AllQueues(), r.Queues())
}

func TestDefaultPriorities(t *testing.T) {
	r := MustDefaultRouter()
	screening, err := r.Route(model.JobTypeScreening)
	require.NoError(t, err)
	assert.Equal(t, 10, screening.Weight())

	ocr, err := r.Route(model.JobTypeDocumentOCR)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityNormal, ocr.DefaultPriority)
}

func TestNewRouterRejectsIncompleteTable(t *testing.T) {
	table := DefaultTable()
	delete(table, model.JobTypeDocumentExpiryCheck)
	delete(table, model.JobTypeRulesExecution)

	r, err := NewRouter(table)
	require.ErrorIs(t, err, ErrUnmappedJobType)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), string(model.JobTypeDocumentExpiryCheck))
	assert.Contains(t, err.Error(), string(model.JobTypeRulesExecution))
}

func TestNewRouterRejectsUnknownType(t *testing.T) {
	table := DefaultTable()
	table["CREDIT_CHECK"] = Route{Queue: model.QueueIdentity}
	_, err := NewRouter(table)
	require.Error(t, err)
}

func TestRouteUnknownType(t *testing.T) {
	_, err := MustDefaultRouter().Route("NOPE")
	require.ErrorIs(t, err, ErrUnmappedJobType)
	assert.Empty(t, MustDefaultRouter().QueueFor("NOPE"))
}

func TestPriorityWeights(t *testing.T) {
	assert.Equal(t, 1, model.PriorityLow.Weight())
	assert.Equal(t, 5, model.PriorityNormal.Weight())
	assert.Equal(t, 10, model.PriorityHigh.Weight())
	assert.Equal(t, 20, model.PriorityCritical.Weight())
	for _, p := range []model.Priority{model.PriorityLow, model.PriorityNormal, model.PriorityHigh, model.PriorityCritical} {
		assert.Equal(t, p, model.PriorityFromWeight(p.Weight()))
	}
}

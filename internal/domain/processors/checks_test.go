package processors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
	"github.com/sa32552/regtech-engine/internal/mocks"
)

func TestScreening_ForwardsJobToCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	check := mocks.NewMockExternalCheck(ctrl)

	input := `{"name":"Jane Roe","watchlists":["OFAC"]}`
	check.EXPECT().
		Run(gomock.Any(), core.CheckRequest{
			Kind:      core.CheckScreening,
			JobID:     "job-1",
			SubjectID: "c1",
			Payload:   json.RawMessage(input),
		}).
		Return(json.RawMessage(`{"matches":[]}`), nil)

	var out model.ScreeningResult
	deps := Deps{Checks: core.Checks{core.CheckScreening: check}}
	require.NoError(t, run(t, deps, newJob(model.JobTypeScreening, "c1", input), &out))
	assert.Equal(t, []string{"OFAC"}, out.WatchlistsChecked)
	assert.Equal(t, model.SeverityLow, out.OverallRisk)
}

func TestChecks_ErrorsPassThrough(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
		want     apperrors.Kind
	}{
		{"transient", apperrors.Transient("provider down", nil), apperrors.KindTransient},
		{"rejected", apperrors.ValidationErrorf("bad document number"), apperrors.KindValidation},
		{"deadline", context.DeadlineExceeded, apperrors.KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			check := mocks.NewMockExternalCheck(ctrl)
			check.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil, tt.checkErr)

			deps := Deps{Checks: core.Checks{core.CheckIdentity: check}}
			err := run(t, deps, newJob(model.JobTypeIdentityVerification, "c1", `{"fullName":"Jane Roe"}`), nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.KindOf(err))
		})
	}
}

func TestRulesExecution_UsesRepository(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRuleRepository(ctrl)

	t.Run("unknown rule is a validation failure", func(t *testing.T) {
		repo.EXPECT().
			ListRules(gomock.Any(), []string{"RULE_404"}).
			Return(nil, model.ErrRuleNotFound)

		err := run(t, Deps{Rules: repo}, newJob(model.JobTypeRulesExecution, "c1", `{"ruleIds":["RULE_404"]}`), nil)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("storage failure is retried", func(t *testing.T) {
		repo.EXPECT().
			ListRules(gomock.Any(), []string{"RULE_001"}).
			Return(nil, errors.New("connection reset"))

		err := run(t, Deps{Rules: repo}, newJob(model.JobTypeRulesExecution, "c1", `{"ruleIds":["RULE_001"]}`), nil)
		assert.True(t, apperrors.KindOf(err).IsRetryable())
	})
}

func TestRiskScoring_AssessorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	risk := mocks.NewMockRiskAssessor(ctrl)
	risk.EXPECT().ComputeRiskAssessment(gomock.Any(), "c7").Return(nil, apperrors.Transient("store unavailable", nil))

	err := run(t, Deps{Risk: risk}, newJob(model.JobTypeRiskScoring, "c7", `{}`), nil)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}

// Package mocks provides mock implementations of the core ports for service and processor tests.
//
// This package uses go.uber.org/mock (gomock). To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	check := mocks.NewMockExternalCheck(ctrl)
//	check.EXPECT().Run(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{}`), nil)
package mocks

// ExternalCheck: Run
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=external_check_mock.go github.com/sa32552/regtech-engine/internal/core ExternalCheck

// RuleRepository: ListRules, UpsertRule
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rule_repository_mock.go github.com/sa32552/regtech-engine/internal/core RuleRepository

// EventSink: Publish
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=event_sink_mock.go github.com/sa32552/regtech-engine/internal/core EventSink

// AlertGate: Acquire
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=alert_gate_mock.go github.com/sa32552/regtech-engine/internal/core AlertGate

// RiskAssessor: ComputeRiskAssessment
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=risk_assessor_mock.go github.com/sa32552/regtech-engine/internal/core RiskAssessor

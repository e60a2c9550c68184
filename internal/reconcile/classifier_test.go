package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixora/sqlaudit/internal/domain"
)

func TestClassifyFindingTransition(t *testing.T) {
	var (
		none    = ExceptionContext{}
		active  = ExceptionContext{Present: true, Active: true}
		expired = ExceptionContext{Present: true, Expired: true}
	)

	tests := []struct {
		name         string
		prior        State
		next         State
		exc          ExceptionContext
		expectedKind domain.ActionType
		expectedSupp bool
	}{
		{"absent to FAIL", StateAbsent, "FAIL", none, domain.ActionNewFinding, false},
		{"absent to WARN with active exception", StateAbsent, "WARN", active, domain.ActionNewFinding, true},
		{"FAIL to PASS", "FAIL", "PASS", none, domain.ActionResolved, false},
		{"WARN to N/A", "WARN", "N/A", none, domain.ActionResolved, false},
		{"PASS to FAIL", "PASS", "FAIL", none, domain.ActionRegressed, false},
		{"PASS to WARN with expired exception", "PASS", "WARN", expired, domain.ActionRegressed, false},
		{"FAIL to FAIL no exception", "FAIL", "FAIL", none, domain.ActionNoChange, false},
		{"FAIL to WARN active exception", "FAIL", "WARN", active, domain.ActionExceptionMaintained, true},
		{"WARN to FAIL expired exception", "WARN", "FAIL", expired, domain.ActionExceptionExpired, false},
		{"FAIL to absent", "FAIL", StateAbsent, none, domain.ActionRemoved, false},
		{"PASS to PASS", "PASS", "PASS", none, domain.ActionNoChange, false},
		{"PASS to absent", "PASS", StateAbsent, none, domain.ActionNoChange, false},
		{"N/A to FAIL", "N/A", "FAIL", none, domain.ActionNewFinding, false},
		{"absent to PASS", StateAbsent, "PASS", none, domain.ActionNoChange, false},
		{"FAIL to FAIL expired exception", "FAIL", "FAIL", expired, domain.ActionExceptionExpired, false},
		{"PASS to PASS expired exception", "PASS", "PASS", expired, domain.ActionExceptionExpired, false},
		{"N/A to N/A expired exception", "N/A", "N/A", expired, domain.ActionExceptionExpired, false},
		{"PASS to absent expired exception", "PASS", StateAbsent, expired, domain.ActionExceptionExpired, false},
		{"PASS to PASS active exception", "PASS", "PASS", active, domain.ActionNoChange, false},
		{"FAIL to absent expired exception", "FAIL", StateAbsent, expired, domain.ActionRemoved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyFindingTransition(tt.prior, tt.next, tt.exc)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedKind, got.Kind)
			assert.Equal(t, tt.expectedSupp, got.Suppressed)
		})
	}
}

func TestClassifyFindingTransition_Errors(t *testing.T) {
	_, err := ClassifyFindingTransition(StateAbsent, StateAbsent, ExceptionContext{})
	var ce *domain.ClassificationError
	assert.ErrorAs(t, err, &ce)

	_, err = ClassifyFindingTransition("FAIL", "BROKEN", ExceptionContext{})
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "BROKEN", ce.Next)
}

func TestIsNoOp(t *testing.T) {
	assert.True(t, IsNoOp(Transition{Kind: domain.ActionNoChange}, ExceptionContext{}))
	assert.False(t, IsNoOp(Transition{Kind: domain.ActionNoChange}, ExceptionContext{Present: true, Active: true}))
	assert.False(t, IsNoOp(Transition{Kind: domain.ActionResolved}, ExceptionContext{}))
}

func TestEligibilityPolicy(t *testing.T) {
	p := DefaultEligibilityPolicy()

	assert.False(t, p.IsExceptionEligible("SA_ACCOUNT_ENABLED", domain.RiskLow))
	assert.True(t, p.IsExceptionEligible("weak_password_policy", domain.RiskHigh))
	assert.False(t, p.IsExceptionEligible("weak_password_policy", domain.RiskCritical))

	parsed, err := ParseEligibilityPolicy([]byte("never_eligible: [guest_enabled]\nmax_risk: medium\n"))
	require.NoError(t, err)
	assert.Equal(t, domain.RiskMedium, parsed.MaxRisk)
	assert.False(t, parsed.IsExceptionEligible("guest_enabled", domain.RiskLow))
	assert.False(t, parsed.IsExceptionEligible("audit_disabled", domain.RiskHigh))
	assert.True(t, parsed.IsExceptionEligible("audit_disabled", domain.RiskMedium))

	_, err = ParseEligibilityPolicy([]byte("max_risk: extreme\n"))
	assert.Error(t, err)

	open := &EligibilityPolicy{}
	assert.True(t, open.IsExceptionEligible("anything", domain.RiskCritical))
}

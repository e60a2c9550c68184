package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixora/sqlaudit/internal/domain"
)

func TestDefaultEligibilityPolicy(t *testing.T) {
	p := DefaultEligibilityPolicy()

	assert.False(t, p.IsExceptionEligible("sa_account_enabled", domain.RiskLow))
	assert.False(t, p.IsExceptionEligible(" XP_CMDSHELL_ENABLED ", domain.RiskLow))
	assert.True(t, p.IsExceptionEligible("weak_password_policy", domain.RiskHigh))
	assert.False(t, p.IsExceptionEligible("weak_password_policy", domain.RiskCritical))
}

func TestParseEligibilityPolicy(t *testing.T) {
	p, err := ParseEligibilityPolicy([]byte("never_eligible: [orphaned_user]\nmax_risk: medium\n"))
	require.NoError(t, err)

	assert.False(t, p.IsExceptionEligible("orphaned_user", domain.RiskLow))
	assert.True(t, p.IsExceptionEligible("sa_account_enabled", domain.RiskMedium))
	assert.False(t, p.IsExceptionEligible("guest_access", domain.RiskHigh))

	open, err := ParseEligibilityPolicy([]byte("never_eligible: []\n"))
	require.NoError(t, err)
	assert.True(t, open.IsExceptionEligible("anything", domain.RiskCritical))

	_, err = ParseEligibilityPolicy([]byte("max_risk: severe\n"))
	assert.Error(t, err)
}

func TestLoadEligibilityPolicy(t *testing.T) {
	p, err := LoadEligibilityPolicy("")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, p.MaxRisk)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_risk: low\n"), 0o644))
	p, err = LoadEligibilityPolicy(path)
	require.NoError(t, err)
	assert.False(t, p.IsExceptionEligible("weak_password_policy", domain.RiskMedium))

	_, err = LoadEligibilityPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

package reconcile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fixora/sqlaudit/internal/domain"
)

// EligibilityPolicy is the side table deciding which findings may receive an
// exception. It is independent of the transition being classified.
type EligibilityPolicy struct {
	// NeverEligible lists finding types that can never be excepted.
	NeverEligible []string `yaml:"never_eligible"`
	// MaxRisk is the most severe risk level an exception may cover.
	MaxRisk domain.RiskLevel `yaml:"max_risk"`

	never map[string]bool
}

// DefaultEligibilityPolicy returns the built-in policy.
func DefaultEligibilityPolicy() *EligibilityPolicy {
	p := &EligibilityPolicy{
		NeverEligible: []string{
			"sa_account_enabled",
			"blank_password",
			"xp_cmdshell_enabled",
			"unsupported_version",
		},
		MaxRisk: domain.RiskHigh,
	}
	p.index()
	return p
}

// LoadEligibilityPolicy reads a YAML policy file. An empty path yields the
// default policy.
func LoadEligibilityPolicy(path string) (*EligibilityPolicy, error) {
	if path == "" {
		return DefaultEligibilityPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read eligibility policy: %w", err)
	}
	return ParseEligibilityPolicy(data)
}

// ParseEligibilityPolicy decodes a YAML policy document.
func ParseEligibilityPolicy(data []byte) (*EligibilityPolicy, error) {
	var p EligibilityPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse eligibility policy: %w", err)
	}
	if p.MaxRisk == "" {
		p.MaxRisk = domain.RiskCritical
	} else if level, ok := domain.ParseRiskLevel(string(p.MaxRisk)); ok {
		p.MaxRisk = level
	} else {
		return nil, fmt.Errorf("invalid max_risk %q in eligibility policy", p.MaxRisk)
	}
	p.index()
	return &p, nil
}

func (p *EligibilityPolicy) index() {
	p.never = make(map[string]bool, len(p.NeverEligible))
	for _, t := range p.NeverEligible {
		p.never[strings.ToLower(strings.TrimSpace(t))] = true
	}
}

// IsExceptionEligible reports whether a finding of this type and risk may be
// covered by an exception.
func (p *EligibilityPolicy) IsExceptionEligible(findingType string, risk domain.RiskLevel) bool {
	ft := strings.ToLower(strings.TrimSpace(findingType))
	if p.never != nil {
		if p.never[ft] {
			return false
		}
	} else {
		for _, t := range p.NeverEligible {
			if strings.ToLower(strings.TrimSpace(t)) == ft {
				return false
			}
		}
	}
	if p.MaxRisk == "" {
		return true
	}
	return severity(risk) <= severity(p.MaxRisk)
}

func severity(r domain.RiskLevel) int {
	for i, level := range domain.RiskLevels {
		if level == r {
			return len(domain.RiskLevels) - i
		}
	}
	return 0
}

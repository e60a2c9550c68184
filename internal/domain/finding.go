package domain

import (
	"strings"
	"time"
)

// FindingStatus represents the outcome of one compliance check
type FindingStatus string

const (
	FindingStatusPass FindingStatus = "PASS"
	FindingStatusFail FindingStatus = "FAIL"
	FindingStatusWarn FindingStatus = "WARN"
	FindingStatusNA   FindingStatus = "N/A"
)

// IsFailing reports whether the status is an open finding (FAIL or WARN).
func (s FindingStatus) IsFailing() bool {
	return s == FindingStatusFail || s == FindingStatusWarn
}

// Valid reports whether s is one of the four known statuses.
func (s FindingStatus) Valid() bool {
	switch s {
	case FindingStatusPass, FindingStatusFail, FindingStatusWarn, FindingStatusNA:
		return true
	}
	return false
}

// ParseFindingStatus normalizes collector spellings ("pass", "Fail", "NA", "n/a").
func ParseFindingStatus(raw string) (FindingStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PASS", "OK", "COMPLIANT":
		return FindingStatusPass, true
	case "FAIL", "FAILED", "NON-COMPLIANT":
		return FindingStatusFail, true
	case "WARN", "WARNING":
		return FindingStatusWarn, true
	case "N/A", "NA", "NOT APPLICABLE":
		return FindingStatusNA, true
	}
	return "", false
}

// RiskLevel represents the severity of a finding
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
	RiskInfo     RiskLevel = "INFO"
)

// RiskLevels lists every risk level, most severe first.
var RiskLevels = []RiskLevel{RiskCritical, RiskHigh, RiskMedium, RiskLow, RiskInfo}

// ParseRiskLevel normalizes a collector risk string. Unknown values are rejected.
func ParseRiskLevel(raw string) (RiskLevel, bool) {
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(raw)))
	switch level {
	case RiskCritical, RiskHigh, RiskMedium, RiskLow, RiskInfo:
		return level, true
	case "":
		return RiskInfo, true
	}
	return "", false
}

// Finding is one compliance check result for one entity in one run.
// Findings are immutable; a new run writes new rows.
type Finding struct {
	EntityKey   EntityKey     `json:"entity_key"`
	FindingType string        `json:"finding_type"`
	Status      FindingStatus `json:"status"`
	RiskLevel   RiskLevel     `json:"risk_level"`
	RunID       int64         `json:"run_id"`
	ObservedAt  time.Time     `json:"observed_at"`
}

// Package report holds the file collaborators of a pass: the findings
// snapshot produced by the collector and the editable report exchanged with
// reviewers.
package report

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// snapshotFile is the on-disk layout. JSON snapshots parse too since JSON is
// valid YAML.
type snapshotFile struct {
	CollectedAt time.Time   `yaml:"collected_at"`
	Findings    []yaml.Node `yaml:"findings"`
}

// snapshotRow is one check result as written by the collector.
type snapshotRow struct {
	Server      string    `yaml:"server"`
	Database    string    `yaml:"database"`
	ObjectType  string    `yaml:"object_type"`
	ObjectName  string    `yaml:"object_name"`
	Check       string    `yaml:"check"`
	Status      string    `yaml:"status"`
	Risk        string    `yaml:"risk"`
	ObservedAt  time.Time `yaml:"observed_at"`
	FindingType string    `yaml:"finding_type"`
}

// SnapshotFile collects findings from a snapshot file
type SnapshotFile struct {
	Path string
}

// NewSnapshotFile creates a collector reading path
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{Path: path}
}

// Collect reads and validates the snapshot
func (s *SnapshotFile) Collect(ctx context.Context) (*ports.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data, s.Path)
}

// ParseSnapshot validates every row once and builds typed findings. Rows with
// a malformed identity, status or risk are skipped and reported.
func ParseSnapshot(data []byte, source string) (*ports.Snapshot, error) {
	var file snapshotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", source, err)
	}

	snapshot := &ports.Snapshot{Findings: make([]domain.Finding, 0, len(file.Findings))}
	for i := range file.Findings {
		node := &file.Findings[i]

		var row snapshotRow
		if err := node.Decode(&row); err != nil {
			snapshot.Skipped = append(snapshot.Skipped, ports.SkippedRow{Source: source, Line: node.Line, Reason: err.Error()})
			continue
		}

		finding, err := row.finding(file.CollectedAt)
		if err != nil {
			snapshot.Skipped = append(snapshot.Skipped, ports.SkippedRow{Source: source, Line: node.Line, Reason: err.Error()})
			continue
		}
		snapshot.Findings = append(snapshot.Findings, finding)
	}

	return snapshot, nil
}

func (r snapshotRow) finding(collectedAt time.Time) (domain.Finding, error) {
	key, err := domain.FindingKey(r.Server, r.Database, r.ObjectType, r.ObjectName, r.Check)
	if err != nil {
		return domain.Finding{}, err
	}

	status, ok := domain.ParseFindingStatus(r.Status)
	if !ok {
		return domain.Finding{}, domain.ErrInvalidInput(fmt.Sprintf("unknown status %q", r.Status))
	}
	risk, ok := domain.ParseRiskLevel(r.Risk)
	if !ok {
		return domain.Finding{}, domain.ErrInvalidInput(fmt.Sprintf("unknown risk level %q", r.Risk))
	}

	findingType := r.FindingType
	if findingType == "" {
		findingType = r.Check
	}
	observed := r.ObservedAt
	if observed.IsZero() {
		observed = collectedAt
	}

	return domain.Finding{
		EntityKey:   key,
		FindingType: strings.ToLower(strings.TrimSpace(findingType)),
		Status:      status,
		RiskLevel:   risk,
		ObservedAt:  observed,
	}, nil
}

package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// Sheet file names inside the report directory.
const (
	AnnotationsSheet = "annotations.csv"
	ActionsSheet     = "actions.csv"
)

// Annotation sheet columns. The identity columns come first; reviewers edit
// justification, review_status and exception_expiry.
const (
	colServer          = "server"
	colDatabase        = "database"
	colObjectType      = "object_type"
	colObjectName      = "object_name"
	colCheck           = "check"
	colFindingType     = "finding_type"
	colStatus          = "status"
	colRisk            = "risk_level"
	colJustification   = "justification"
	colReviewStatus    = "review_status"
	colExceptionExpiry = "exception_expiry"
	colException       = "exception"
	colReviewRequired  = "review_required"
	colReviewNote      = "review_note"
	colLastEditedAt    = "last_edited_at"
)

var annotationHeader = []string{
	colServer, colDatabase, colObjectType, colObjectName, colCheck,
	colFindingType, colStatus, colRisk,
	colJustification, colReviewStatus, colExceptionExpiry,
	colException, colReviewRequired, colReviewNote, colLastEditedAt,
}

var identityColumns = []string{colServer, colDatabase, colObjectType, colObjectName, colCheck}

// Action sheet columns.
const (
	colActionID    = "action_id"
	colEntityKey   = "entity_key"
	colActionType  = "action_type"
	colInitialRun  = "initial_run_id"
	colSyncRun     = "sync_run_id"
	colPriorStatus = "prior_status"
	colNewStatus   = "new_status"
	colDescription = "description"
	colUserEdited  = "user_edited"
	colCreatedAt   = "created_at"
)

var actionHeader = []string{
	colActionID, colEntityKey, colActionType, colInitialRun, colSyncRun,
	colPriorStatus, colNewStatus, colRisk, colDescription, colUserEdited, colCreatedAt,
}

// CSVReport exchanges the editable report as CSV sheets in one directory
type CSVReport struct {
	Dir string
}

// NewCSVReport creates a report rooted at dir
func NewCSVReport(dir string) *CSVReport {
	return &CSVReport{Dir: dir}
}

// Read loads the reviewer edits. A missing sheet reads as empty.
func (r *CSVReport) Read(ctx context.Context) (*ports.ReportContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := &ports.ReportContent{}

	path := filepath.Join(r.Dir, AnnotationsSheet)
	records, err := readSheet(path)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		annotations, skipped, err := parseAnnotations(path, records)
		if err != nil {
			return nil, err
		}
		content.Annotations = annotations
		content.Skipped = append(content.Skipped, skipped...)
	}

	path = filepath.Join(r.Dir, ActionsSheet)
	records, err = readSheet(path)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		edits, skipped, err := parseActionEdits(path, records)
		if err != nil {
			return nil, err
		}
		content.ActionEdits = edits
		content.Skipped = append(content.Skipped, skipped...)
	}

	return content, nil
}

// Write renders the merged annotations and the run's actions. Every finding
// of the run gets an annotation row; annotations of entities not collected in
// this run are kept below them so no human input is lost.
func (r *CSVReport) Write(ctx context.Context, data *ports.ReportData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	if err := writeSheet(filepath.Join(r.Dir, AnnotationsSheet), annotationHeader, annotationRows(data)); err != nil {
		return err
	}
	return writeSheet(filepath.Join(r.Dir, ActionsSheet), actionHeader, actionRows(data.Actions))
}

func annotationRows(data *ports.ReportData) [][]string {
	annotations := make(map[domain.EntityKey]*domain.Annotation, len(data.Annotations))
	for _, a := range data.Annotations {
		annotations[a.EntityKey] = a
	}
	exceptions := make(map[domain.EntityKey]*domain.Exception, len(data.Exceptions))
	for _, e := range data.Exceptions {
		exceptions[e.EntityKey] = e
	}

	var at time.Time
	if data.Run != nil {
		at = data.Run.StartedAt
	}

	rows := make([][]string, 0, len(data.Findings)+len(data.Annotations))
	seen := make(map[domain.EntityKey]bool, len(data.Findings))
	for _, f := range data.Findings {
		if seen[f.EntityKey] {
			continue
		}
		seen[f.EntityKey] = true
		f := f
		rows = append(rows, annotationRow(f.EntityKey, &f, annotations[f.EntityKey], exceptions[f.EntityKey], at))
	}

	var rest []domain.EntityKey
	for key := range annotations {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, key := range rest {
		rows = append(rows, annotationRow(key, nil, annotations[key], exceptions[key], at))
	}
	return rows
}

func annotationRow(key domain.EntityKey, f *domain.Finding, a *domain.Annotation, exc *domain.Exception, at time.Time) []string {
	row := make([]string, len(annotationHeader))
	parts := key.FindingFields()
	for i := range identityColumns {
		if i < len(parts) {
			row[i] = parts[i]
		}
	}

	if f != nil {
		row[5] = f.FindingType
		row[6] = string(f.Status)
		row[7] = string(f.RiskLevel)
	}
	if a != nil {
		row[8] = a.Values.Justification
		row[9] = string(a.Values.ReviewStatus)
		row[10] = formatTime(a.Values.ExceptionExpiry)
		row[12] = strconv.FormatBool(a.ReviewRequired)
		row[13] = a.ReviewNote
		row[14] = formatTime(&a.LastEditedAt)
	}
	if exc != nil {
		switch {
		case exc.Expired(at):
			row[11] = "expired"
		default:
			row[11] = "active"
		}
	}
	return row
}

func actionRows(actions []*domain.Action) [][]string {
	rows := make([][]string, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []string{
			a.ID,
			string(a.EntityKey),
			string(a.ActionType),
			strconv.FormatInt(a.InitialRunID, 10),
			strconv.FormatInt(a.SyncRunID, 10),
			a.PriorStatus,
			a.NewStatus,
			string(a.RiskLevel),
			a.Description,
			strings.Join(a.UserEditedFields, ";"),
			formatTime(&a.CreatedAt),
		})
	}
	return rows
}

func parseAnnotations(source string, records [][]string) ([]domain.ReportAnnotation, []ports.SkippedRow, error) {
	cols, err := columnIndex(source, records[0], identityColumns...)
	if err != nil {
		return nil, nil, err
	}

	var (
		out     []domain.ReportAnnotation
		skipped []ports.SkippedRow
	)
	for i, rec := range records[1:] {
		line := i + 2
		if blank(rec) {
			continue
		}
		get := func(name string) string { return cols.get(rec, name) }

		key, err := domain.FindingKey(get(colServer), get(colDatabase), get(colObjectType), get(colObjectName), get(colCheck))
		if err != nil {
			skipped = append(skipped, ports.SkippedRow{Source: source, Line: line, Reason: err.Error()})
			continue
		}

		expiry, err := parseOptionalTime(get(colExceptionExpiry))
		if err != nil {
			skipped = append(skipped, ports.SkippedRow{Source: source, Line: line, Reason: fmt.Sprintf("exception_expiry: %v", err)})
			continue
		}
		edited, err := parseOptionalTime(get(colLastEditedAt))
		if err != nil {
			skipped = append(skipped, ports.SkippedRow{Source: source, Line: line, Reason: fmt.Sprintf("last_edited_at: %v", err)})
			continue
		}

		row := domain.ReportAnnotation{
			EntityKey: key,
			Values: domain.AnnotationValues{
				Justification:   strings.TrimSpace(get(colJustification)),
				ReviewStatus:    domain.ParseReviewStatus(get(colReviewStatus)),
				ExceptionExpiry: expiry,
			},
		}
		if edited != nil {
			row.LastEditedAt = *edited
		}
		out = append(out, row)
	}
	return out, skipped, nil
}

func parseActionEdits(source string, records [][]string) ([]domain.ActionEdit, []ports.SkippedRow, error) {
	cols, err := columnIndex(source, records[0], colActionID, colDescription)
	if err != nil {
		return nil, nil, err
	}

	var (
		out     []domain.ActionEdit
		skipped []ports.SkippedRow
	)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		id := strings.TrimSpace(cols.get(rec, colActionID))
		if id == "" {
			skipped = append(skipped, ports.SkippedRow{Source: source, Line: i + 2, Reason: "missing action_id"})
			continue
		}
		out = append(out, domain.ActionEdit{
			ActionID: id,
			Field:    domain.ActionFieldDescription,
			Value:    cols.get(rec, colDescription),
		})
	}
	return out, skipped, nil
}

type columns map[string]int

func (c columns) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// columnIndex maps header names to positions so reviewers may reorder or add
// columns.
func columnIndex(source string, header []string, required ...string) (columns, error) {
	cols := make(columns, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, domain.ErrInvalidInput(fmt.Sprintf("%s: missing column %q", source, name))
		}
	}
	return cols, nil
}

func readSheet(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, domain.NewAppError(domain.ErrCodeInvalidInput, "Invalid report sheet", path, err)
	}
	return records, nil
}

// writeSheet replaces path atomically so a reviewer never opens a half
// written sheet.
func writeSheet(path string, header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeSheet(tmp, header, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

func encodeSheet(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseOptionalTime accepts RFC 3339 or a plain date, which is what
// spreadsheets usually produce.
func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time %q", raw)
}

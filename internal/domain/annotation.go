package domain

import (
	"strings"
	"time"
)

// ReviewStatus is the human review state of a finding
type ReviewStatus string

const (
	ReviewStatusNone          ReviewStatus = ""
	ReviewStatusPending       ReviewStatus = "PENDING"
	ReviewStatusReviewed      ReviewStatus = "REVIEWED"
	ReviewStatusAcceptedRisk  ReviewStatus = "ACCEPTED_RISK"
	ReviewStatusFalsePositive ReviewStatus = "FALSE_POSITIVE"
)

// ParseReviewStatus normalizes the spreadsheet spelling of a review status.
// Unrecognized text is kept verbatim in upper case.
func ParseReviewStatus(raw string) ReviewStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "EXCEPTION", "ACCEPTED", "RISK_ACCEPTED":
		return ReviewStatusAcceptedRisk
	}
	return ReviewStatus(s)
}

// Annotation fields that the sync engine merges one by one.
const (
	FieldJustification   = "justification"
	FieldReviewStatus    = "review_status"
	FieldExceptionExpiry = "exception_expiry"
)

// AnnotationFields lists the mergeable fields in a stable order.
var AnnotationFields = []string{FieldJustification, FieldReviewStatus, FieldExceptionExpiry}

// AnnotationValues holds the user-owned fields of an annotation.
type AnnotationValues struct {
	Justification   string       `json:"justification"`
	ReviewStatus    ReviewStatus `json:"review_status"`
	ExceptionExpiry *time.Time   `json:"exception_expiry,omitempty"`
}

// Get returns the comparable string form of one field.
func (v AnnotationValues) Get(field string) string {
	switch field {
	case FieldJustification:
		return v.Justification
	case FieldReviewStatus:
		return string(v.ReviewStatus)
	case FieldExceptionExpiry:
		if v.ExceptionExpiry == nil {
			return ""
		}
		return v.ExceptionExpiry.UTC().Format(time.RFC3339)
	}
	return ""
}

// Set copies one field from src.
func (v *AnnotationValues) Set(field string, src AnnotationValues) {
	switch field {
	case FieldJustification:
		v.Justification = src.Justification
	case FieldReviewStatus:
		v.ReviewStatus = src.ReviewStatus
	case FieldExceptionExpiry:
		v.ExceptionExpiry = src.ExceptionExpiry
	}
}

// Equal compares every mergeable field.
func (v AnnotationValues) Equal(o AnnotationValues) bool {
	for _, f := range AnnotationFields {
		if v.Get(f) != o.Get(f) {
			return false
		}
	}
	return true
}

// Annotation is human-authored metadata keyed by entity. The store keeps the
// current value and the value agreed at the last sync (Base) so edits on each
// side can be detected field by field.
type Annotation struct {
	EntityKey      EntityKey        `json:"entity_key"`
	Values         AnnotationValues `json:"values"`
	Base           AnnotationValues `json:"base"`
	ReviewRequired bool             `json:"review_required"`
	ReviewNote     string           `json:"review_note,omitempty"`
	LastEditedAt   time.Time        `json:"last_edited_at"`
	SyncedRunID    int64            `json:"synced_run_id"`
}

// ReportAnnotation is one annotation row as read from the editable report.
type ReportAnnotation struct {
	EntityKey    EntityKey        `json:"entity_key"`
	Values       AnnotationValues `json:"values"`
	LastEditedAt time.Time        `json:"last_edited_at"`
}

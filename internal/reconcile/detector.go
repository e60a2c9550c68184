package reconcile

import (
	"fmt"
	"strings"

	"github.com/fixora/sqlaudit/internal/domain"
)

// ActionCandidate is one logical action for one entity in one run, built from
// one or more DetectedChange values.
type ActionCandidate struct {
	EntityKey   domain.EntityKey
	ActionType  domain.ActionType
	RunID       int64
	PriorStatus string
	NewStatus   string
	FindingType string
	PriorRisk   domain.RiskLevel
	RiskLevel   domain.RiskLevel
	Fields      []string
	Suppressed  bool
}

type candidateKey struct {
	entity     domain.EntityKey
	actionType domain.ActionType
	runID      int64
}

// DetectAllActions groups changes describing the same event (same entity,
// change type and run) into one candidate each, preserving first-seen order.
func DetectAllActions(changes []DetectedChange) []ActionCandidate {
	index := make(map[candidateKey]int, len(changes))
	var out []ActionCandidate

	for _, ch := range changes {
		k := candidateKey{entity: ch.EntityKey, actionType: ch.ChangeType, runID: ch.RunID}
		if i, ok := index[k]; ok {
			c := &out[i]
			c.addField(ch.Field)
			c.Suppressed = c.Suppressed || ch.Suppressed
			continue
		}
		c := ActionCandidate{
			EntityKey:   ch.EntityKey,
			ActionType:  ch.ChangeType,
			RunID:       ch.RunID,
			PriorStatus: ch.PriorStatus,
			NewStatus:   ch.NewStatus,
			FindingType: ch.FindingType,
			PriorRisk:   ch.PriorRisk,
			RiskLevel:   ch.RiskLevel,
			Suppressed:  ch.Suppressed,
		}
		c.addField(ch.Field)
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}

func (c *ActionCandidate) addField(field string) {
	if field == "" {
		return
	}
	for _, f := range c.Fields {
		if f == field {
			return
		}
	}
	c.Fields = append(c.Fields, field)
}

// ConsolidateActions keeps a single candidate per entity and run: the one with
// the highest priority type. Fields of the losers are folded into the winner.
func ConsolidateActions(candidates []ActionCandidate) []ActionCandidate {
	type entityRun struct {
		entity domain.EntityKey
		runID  int64
	}
	index := make(map[entityRun]int, len(candidates))
	var out []ActionCandidate

	for _, c := range candidates {
		k := entityRun{entity: c.EntityKey, runID: c.RunID}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, c)
			continue
		}
		winner := &out[i]
		if c.ActionType.Priority() > winner.ActionType.Priority() {
			fields := winner.Fields
			*winner = c
			for _, f := range fields {
				winner.addField(f)
			}
			continue
		}
		for _, f := range c.Fields {
			winner.addField(f)
		}
	}
	return out
}

// Describe renders the default description of a candidate. Users may override
// it on the recorded action.
func Describe(c ActionCandidate) string {
	var b strings.Builder
	switch c.ActionType {
	case domain.ActionNewFinding:
		fmt.Fprintf(&b, "New %s finding", statusLabel(c.NewStatus))
	case domain.ActionResolved:
		fmt.Fprintf(&b, "Resolved: %s -> %s", statusLabel(c.PriorStatus), statusLabel(c.NewStatus))
	case domain.ActionRegressed:
		fmt.Fprintf(&b, "Regressed: %s -> %s", statusLabel(c.PriorStatus), statusLabel(c.NewStatus))
	case domain.ActionRemoved:
		fmt.Fprintf(&b, "No longer collected (was %s)", statusLabel(c.PriorStatus))
	case domain.ActionExceptionMaintained:
		fmt.Fprintf(&b, "Exception maintained, still %s", statusLabel(c.NewStatus))
	case domain.ActionExceptionExpired:
		fmt.Fprintf(&b, "Exception expired, finding is %s", statusLabel(c.NewStatus))
	default:
		fmt.Fprintf(&b, "No change (%s)", statusLabel(c.NewStatus))
	}

	if c.FindingType != "" {
		fmt.Fprintf(&b, " [%s]", c.FindingType)
	}
	if c.RiskLevel != "" {
		fmt.Fprintf(&b, " risk %s", c.RiskLevel)
	}
	for _, f := range c.Fields {
		if f == FieldRiskLevel && c.PriorRisk != "" && c.PriorRisk != c.RiskLevel {
			fmt.Fprintf(&b, " (was %s)", c.PriorRisk)
		}
	}
	if c.Suppressed {
		b.WriteString("; severity suppressed by exception")
	}
	return b.String()
}

func statusLabel(s string) string {
	if s == "" {
		return "absent"
	}
	return s
}

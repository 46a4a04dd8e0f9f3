package models

// RuleType identifies an assignment rule.
type RuleType string

const (
	RuleCoordinatorConsistency RuleType = "COORDINATOR_CONSISTENCY"
	RuleFieldMatch             RuleType = "FIELD_MATCH"
)

// RuleSeverity grades a finding. ERROR blocks, WARNING needs confirmation, INFO is advisory.
type RuleSeverity string

const (
	SeverityError   RuleSeverity = "ERROR"
	SeverityWarning RuleSeverity = "WARNING"
	SeverityInfo    RuleSeverity = "INFO"
)

// RuleFinding is a single assignment rule result.
type RuleFinding struct {
	Type              RuleType     `json:"type"`
	Severity          RuleSeverity `json:"severity"`
	Message           string       `json:"message"`
	SuggestedAction   *string      `json:"suggested_action,omitempty"`
	ExistingTeacherID *string      `json:"existing_teacher_id,omitempty"`
}

// RuleFindings is the result list of one evaluation.
type RuleFindings []RuleFinding

// HasErrors reports whether any finding blocks the transition.
func (f RuleFindings) HasErrors() bool {
	return f.has(SeverityError)
}

// HasWarnings reports whether any finding requires explicit confirmation.
func (f RuleFindings) HasWarnings() bool {
	return f.has(SeverityWarning)
}

// BySeverity filters findings of the given severity.
func (f RuleFindings) BySeverity(sev RuleSeverity) RuleFindings {
	out := make(RuleFindings, 0, len(f))
	for _, finding := range f {
		if finding.Severity == sev {
			out = append(out, finding)
		}
	}
	return out
}

func (f RuleFindings) has(sev RuleSeverity) bool {
	for _, finding := range f {
		if finding.Severity == sev {
			return true
		}
	}
	return false
}

package evidence

import "strings"

type Prerequisite string

const (
	PrereqProject          Prerequisite = "project"
	PrereqHypothesis       Prerequisite = "hypothesis"
	PrereqCustomerProfile  Prerequisite = "customer_profile"
	PrereqValueProposition Prerequisite = "value_proposition"
)

type PrerequisiteResult struct {
	Ready   bool           `json:"ready"`
	Missing []Prerequisite `json:"missing"`
}

// CheckPrerequisites reports every missing prerequisite for generation, in a fixed
// order, not just the first.
func CheckPrerequisites(s Snapshot) PrerequisiteResult {
	missing := []Prerequisite{}
	if s.Project == nil || strings.TrimSpace(s.Project.Name) == "" {
		missing = append(missing, PrereqProject)
	}
	if len(s.Hypotheses) == 0 {
		missing = append(missing, PrereqHypothesis)
	}
	if s.ValidationState == nil || s.ValidationState.CustomerProfile.IsEmpty() {
		missing = append(missing, PrereqCustomerProfile)
	}
	if s.ValueProposition == nil {
		missing = append(missing, PrereqValueProposition)
	}
	return PrerequisiteResult{Ready: len(missing) == 0, Missing: missing}
}

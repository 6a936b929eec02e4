package engine

import (
	"leadpilot/models"
)

// ConditionsMet evaluates a step's gating predicate against the lead's
// current state and the enrollment's execution history. Absent or
// empty conditions pass. All configured clauses must pass (logical
// AND). Anything unexpected evaluates as not met: a broken condition
// must never dispatch an action it was supposed to gate.
func ConditionsMet(cond *models.StepConditions, lead *models.Lead, lj *models.LeadJourney) bool {
	if cond.Empty() {
		return true
	}
	if lead == nil || lj == nil {
		return false
	}

	if cond.Status != "" && lead.Status != cond.Status {
		return false
	}

	for _, tag := range cond.Tags {
		if !lead.Tags.Contains(tag) {
			return false
		}
	}

	if len(cond.CallOutcomes) > 0 {
		result := lj.LastCallResult()
		if result == nil {
			// No prior call: cannot match what hasn't happened.
			return false
		}
		outcome, _ := result["outcome"].(string)
		if outcome == "" {
			return false
		}
		matched := false
		for _, want := range cond.CallOutcomes {
			if outcome == want {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

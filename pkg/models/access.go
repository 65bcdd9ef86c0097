package models

// AccessCheck is the outcome of one SelfSubjectAccessReview
type AccessCheck struct {
	Verb        string `json:"verb"`
	Group       string `json:"group,omitempty"`
	Resource    string `json:"resource"`
	Subresource string `json:"subresource,omitempty"`
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
}

// ClusterAccess lists the permissions the dashboard needs on one context and whether it has them
type ClusterAccess struct {
	Context string        `json:"context"`
	Checks  []AccessCheck `json:"checks"`
}

// Denied returns the checks that were not allowed
func (c ClusterAccess) Denied() []AccessCheck {
	var out []AccessCheck
	for _, check := range c.Checks {
		if !check.Allowed {
			out = append(out, check)
		}
	}
	return out
}

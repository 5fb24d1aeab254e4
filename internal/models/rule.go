package models

import "encoding/json"

// Rule moves or copies messages that match all of its conditions.
// A nil AccountID marks a global rule that applies to every account.
type Rule struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Conditions map[string]string `json:"conditions"`
	Actions    RuleAction        `json:"actions"`
	AccountID  *int64            `json:"account_id"`
	IsActive   bool              `json:"is_active"`
}

// RuleAction says where matched messages go. Exclusive means move, otherwise copy.
type RuleAction struct {
	MoveTo    string `json:"move_to"`
	Exclusive bool   `json:"exclusive"`
}

// UnmarshalJSON treats a missing "exclusive" key as true.
func (a *RuleAction) UnmarshalJSON(data []byte) error {
	var raw struct {
		MoveTo    string `json:"move_to"`
		Exclusive *bool  `json:"exclusive"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.MoveTo = raw.MoveTo
	a.Exclusive = raw.Exclusive == nil || *raw.Exclusive
	return nil
}

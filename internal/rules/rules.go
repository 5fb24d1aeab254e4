// Package rules decides where incoming messages belong and moves them there.
package rules

import (
	"strings"

	"github.com/vdavid/mailsync/internal/models"
	"golang.org/x/text/cases"
)

// Condition fields a rule may test.
const (
	FieldSender    = "sender"
	FieldSubject   = "subject"
	FieldRecipient = "recipient"
)

// KnownField reports whether field can be used in a rule condition.
func KnownField(field string) bool {
	switch field {
	case FieldSender, FieldSubject, FieldRecipient:
		return true
	}
	return false
}

func fold(s string) string {
	return cases.Fold().String(s)
}

// alternatives splits a condition value on commas, dropping blanks.
func alternatives(value string) []string {
	parts := strings.Split(fold(value), ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

func fieldValue(field string, msg *models.Message) (string, bool) {
	switch field {
	case FieldSender:
		return msg.Sender, true
	case FieldSubject:
		return msg.Subject, true
	case FieldRecipient:
		return msg.Recipients(), true
	}
	return "", false
}

// Matches reports whether every condition of rule holds for msg. A condition holds
// when any of its comma-separated alternatives is a case-insensitive substring of
// the message field. A rule without conditions matches nothing.
func Matches(rule *models.Rule, msg *models.Message) bool {
	if rule == nil || msg == nil || len(rule.Conditions) == 0 {
		return false
	}

	for field, value := range rule.Conditions {
		haystack, ok := fieldValue(field, msg)
		if !ok {
			return false
		}
		haystack = fold(haystack)

		matched := false
		for _, alt := range alternatives(value) {
			if strings.Contains(haystack, alt) {
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

// Evaluate returns the action of the first rule in order that matches msg.
func Evaluate(rules []*models.Rule, msg *models.Message) (models.RuleAction, bool) {
	for _, rule := range rules {
		if Matches(rule, msg) {
			return rule.Actions, true
		}
	}
	return models.RuleAction{}, false
}

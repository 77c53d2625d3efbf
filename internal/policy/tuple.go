package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Policy tuple types and effects.
const (
	PTypePermission = "p"
	PTypeGrouping   = "g"

	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Tuple is a single policy rule. For p-rules Subject acts on Object via
// Action within Domain with the given Effect. For g-rules Subject inherits
// Object's permissions within Domain; Action and Effect must be empty.
type Tuple struct {
	PType   string `json:"ptype"`
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Action  string `json:"action"`
	Domain  string `json:"domain"`
	Effect  string `json:"effect,omitempty"`
}

// NewGrant builds an allow p-tuple.
func NewGrant(subject, object, action, domain string) Tuple {
	return Tuple{
		PType:   PTypePermission,
		Subject: subject,
		Object:  object,
		Action:  action,
		Domain:  domain,
		Effect:  EffectAllow,
	}
}

// Validate checks the structural invariants of the tuple.
func (t Tuple) Validate() error {
	if t.Subject == "" {
		return errors.New("policy: tuple subject required")
	}
	if t.Domain == "" {
		return errors.New("policy: tuple domain required")
	}
	switch t.PType {
	case PTypePermission:
		if t.Object == "" || t.Action == "" {
			return errors.New("policy: p-tuple requires object and action")
		}
		if t.Effect != "" && t.Effect != EffectAllow && t.Effect != EffectDeny {
			return fmt.Errorf("policy: invalid effect %q", t.Effect)
		}
	case PTypeGrouping:
		if t.Object == "" {
			return errors.New("policy: g-tuple requires an inherited subject")
		}
		if t.Action != "" || t.Effect != "" {
			return errors.New("policy: g-tuple must not carry action or effect")
		}
	default:
		return fmt.Errorf("policy: unknown ptype %q", t.PType)
	}
	return nil
}

// Key returns a stable identity for diffing permission sets.
func (t Tuple) Key() string {
	return strings.Join([]string{t.PType, t.Subject, t.Object, t.Action, t.Domain}, "\x00")
}

func (t Tuple) permissionRule() []string {
	eft := t.Effect
	if eft == "" {
		eft = EffectAllow
	}
	return []string{t.Subject, t.Object, t.Action, t.Domain, eft}
}

func (t Tuple) groupingRule() []string {
	return []string{t.Subject, t.Object, t.Domain}
}

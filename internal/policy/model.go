// Package policy wraps the casbin RBAC-with-domains engine behind the
// PolicyStore contract used by the rest of Palisade. Rules are persisted to
// the policy_rules table through a pgx adapter so they stay queryable for
// audit independently of the in-memory matcher.
package policy

import (
	"github.com/casbin/casbin/v2/model"
)

// modelText is the RBAC-with-domains model. The tuple shape is
// (subject, object, action, domain, effect); role inheritance g-rules are
// (member, role, domain). Deny effects take priority inside the engine.
const modelText = `
[request_definition]
r = sub, obj, act, dom

[policy_definition]
p = sub, obj, act, dom, eft

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.obj == p.obj && r.act == p.act && r.dom == p.dom
`

func newModel() (model.Model, error) {
	return model.NewModelFromString(modelText)
}

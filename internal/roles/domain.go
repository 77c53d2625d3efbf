package roles

import "time"

// Status enumerates role lifecycle states. Disabled roles keep their
// assignments and policy rules but stop contributing to authorization:
// the authoritative role lookup filters them out.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
)

// Role is a named permission bundle applied within a tenant domain.
type Role struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

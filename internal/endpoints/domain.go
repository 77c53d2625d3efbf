package endpoints

import "time"

// Endpoint is a persisted protected route, keyed by (method, path).
type Endpoint struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Resource   string    `json:"resource"`
	Action     string    `json:"action"`
	Controller string    `json:"controller"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Filter narrows endpoint listings. Empty fields match everything.
type Filter struct {
	Method   string
	Resource string
	Action   string
}

// ResourceGroup is one node of the endpoint tree: a resource and the
// endpoints that enforce it.
type ResourceGroup struct {
	Resource  string     `json:"resource"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Package registry catalogs the declared API surface. Each feature package
// registers its routes with typed resource/action metadata at construction
// time; the collected catalog is reconciled against persisted endpoints and
// the super role's grants at startup.
package registry

import "sort"

// Endpoint is a discovered API surface entry.
type Endpoint struct {
	Path       string `json:"path"`
	Method     string `json:"method"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Controller string `json:"controller"`
	Summary    string `json:"summary"`
}

// Route declares a single protected route. Pattern uses chi syntax; it is
// normalized to a stable template form during collection.
type Route struct {
	Method   string
	Pattern  string
	Resource string
	Action   string
	Summary  string
}

// AppDescriptor groups the routes declared by one feature package.
type AppDescriptor struct {
	Controller string
	Routes     []Route
}

// Registry is the process-wide route catalog, built once at startup.
type Registry struct {
	apps []AppDescriptor
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds an application's declared routes to the catalog.
func (r *Registry) Register(apps ...AppDescriptor) {
	r.apps = append(r.apps, apps...)
}

// Collect walks every registered application and returns the normalized,
// deduplicated endpoint catalog. Output is sorted by (path, method) so two
// runs over an unchanged route table are byte-identical, which lets the
// reconciler detect "no drift".
func (r *Registry) Collect() []Endpoint {
	seen := make(map[string]struct{})
	endpoints := make([]Endpoint, 0)
	for _, app := range r.apps {
		for _, route := range app.Routes {
			if route.Resource == "" || route.Action == "" {
				continue
			}
			ep := Endpoint{
				Path:       NormalizePath(route.Pattern),
				Method:     route.Method,
				Resource:   route.Resource,
				Action:     route.Action,
				Controller: app.Controller,
				Summary:    route.Summary,
			}
			k := ep.Method + " " + ep.Path
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			endpoints = append(endpoints, ep)
		}
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].Method < endpoints[j].Method
	})
	return endpoints
}

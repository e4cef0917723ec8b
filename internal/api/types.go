package api

import (
	"clipforge/internal/artifact"
	"clipforge/internal/deps"
)

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DependenciesFrom converts dependency checks into their API form.
func DependenciesFrom(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

// BundleStatus summarizes the compiled-bundle cache.
type BundleStatus struct {
	Root      string `json:"root"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Available bool   `json:"compilerAvailable"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool                  `json:"running"`
	PID          int                   `json:"pid"`
	LockFilePath string                `json:"lockFilePath"`
	RenderMode   string                `json:"renderMode"`
	APIAddress   string                `json:"apiAddress,omitempty"`
	Store        artifact.StatusReport `json:"store"`
	Bundles      BundleStatus          `json:"bundles"`
	Dependencies []DependencyStatus    `json:"dependencies"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

package models

// DefaultHandle is the source handle matched when a condition result matches
// no explicit branch. An edge with an empty handle is equivalent.
const DefaultHandle = "default"

// Edge represents a directed, optionally-labeled connection between two nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
}

// IsDefault reports whether the edge is the fallback branch of its source node.
func (e *Edge) IsDefault() bool {
	return e.SourceHandle == "" || e.SourceHandle == DefaultHandle
}

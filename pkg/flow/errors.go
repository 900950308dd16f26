// Package flow provides read-only resolution over chatbot flow graphs.
package flow

import (
	"errors"
	"fmt"
)

// Graph resolution failure modes. These are always caught inside the engine
// and converted to a failed context, never propagated as a handler crash.
var (
	ErrNoStartNode       = errors.New("graph has no start node")
	ErrNodeNotFound      = errors.New("node not found in graph")
	ErrDeadEnd           = errors.New("node has no outgoing edge and is not terminal")
	ErrNoMatchingBranch  = errors.New("no edge matches branch result")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
)

// GraphError wraps a graph resolution failure with node context.
type GraphError struct {
	ChatbotID string
	NodeID    string
	Err       error
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("graph error at node %s in chatbot %s: %v", e.NodeID, e.ChatbotID, e.Err)
	}

	return fmt.Sprintf("graph error in chatbot %s: %v", e.ChatbotID, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

func (e *GraphError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewGraphError creates a graph error scoped to a chatbot and node.
func NewGraphError(chatbotID, nodeID string, err error) *GraphError {
	return &GraphError{ChatbotID: chatbotID, NodeID: nodeID, Err: err}
}

// IsGraphError checks if an error belongs to the graph failure taxonomy.
func IsGraphError(err error) bool {
	var ge *GraphError

	return errors.As(err, &ge)
}

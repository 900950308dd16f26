// Package models defines typed graph nodes for conversational flow execution.
package models

// NodeType represents the kind of step a node performs in the flow graph.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeMessage   NodeType = "message"
	NodeTypeQuestion  NodeType = "question"
	NodeTypeCondition NodeType = "condition"
	NodeTypeAction    NodeType = "action"
)

// Node represents a typed step in a chatbot flow graph.
type Node struct {
	ID        string   `json:"id"   validate:"required"`
	Type      NodeType `json:"type" validate:"required"`
	PositionX int      `json:"position_x"`
	PositionY int      `json:"position_y"`
	Data      NodeData `json:"data"`
}

// NodeData carries the type-specific configuration of a node. Exactly one of
// the config fields is expected to be set, matching Node.Type. The nested
// Type marker exists because builder exports have historically marked start
// nodes either at the top level or inside data; both are honored.
type NodeData struct {
	Type      NodeType         `json:"type,omitempty"`
	Terminal  bool             `json:"terminal,omitempty"`
	Message   *MessageConfig   `json:"message,omitempty"`
	Question  *QuestionConfig  `json:"question,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
}

// MessageConfig configures a message node. Text supports {{variable}}
// substitution against the conversation's accumulated variables.
type MessageConfig struct {
	Text string `json:"text" validate:"required"`
}

// QuestionConfig configures a question node: the rendered prompt is sent and
// the next customer message is bound to Variable.
type QuestionConfig struct {
	Prompt   string `json:"prompt"   validate:"required"`
	Variable string `json:"variable" validate:"required"`
}

// ConditionConfig configures a condition node. Expression is rendered against
// the current variables; the outgoing edge whose source handle equals the
// rendered result is followed.
type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

// ActionRetryConfig defines the dispatcher-owned retry budget for an
// external call.
type ActionRetryConfig struct {
	Attempts int `json:"attempts"`
	DelayMs  int `json:"delay_ms"`
}

// ActionConfig configures an action node performing an external REST call.
// URL, headers and body support {{variable}} substitution.
type ActionConfig struct {
	URL            string            `json:"url"    validate:"required,url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	ResultVariable string            `json:"result_variable,omitempty"`
	Retries        ActionRetryConfig `json:"retries"`
}

// EffectiveType returns the node's type, honoring the legacy nested marker
// when the top-level type is absent.
func (n *Node) EffectiveType() NodeType {
	if n.Type != "" {
		return n.Type
	}

	return n.Data.Type
}

// IsStart reports whether the node marks the entry point of the graph. Both
// marker conventions are accepted.
func (n *Node) IsStart() bool {
	return n.Type == NodeTypeStart || n.Data.Type == NodeTypeStart
}

// IsTerminal reports whether the node is explicitly marked as a flow end.
func (n *Node) IsTerminal() bool {
	return n.Data.Terminal
}

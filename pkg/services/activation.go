// Package services provides chatbot activation with structural validation.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waflow/waflow/pkg/flow"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// Activation handles chatbot lifecycle transitions. Only activated chatbots
// are eligible for conversation execution; activation validates the graph
// structurally first so broken flows are caught at publish time, not at the
// first customer message.
type Activation struct {
	persistence persistence.Persistence
}

// NewActivation creates a new chatbot activation service.
func NewActivation(persistence persistence.Persistence) *Activation {
	return &Activation{
		persistence: persistence,
	}
}

// Activate validates a chatbot's graph and marks it executable.
func (a *Activation) Activate(ctx context.Context, chatbotID string) (*models.Chatbot, error) {
	chatbot, err := a.persistence.Chatbots().ByID(ctx, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}

	if chatbot.Status == models.ChatbotStatusArchived {
		return nil, ErrCannotModifyArchived
	}

	if chatbot.Executable() {
		return nil, ErrAlreadyActive
	}

	err = a.ValidateForActivation(chatbot)
	if err != nil {
		return nil, fmt.Errorf("chatbot validation failed: %w", err)
	}

	chatbot.Status = models.ChatbotStatusActive
	chatbot.IsActive = true
	chatbot.UpdatedAt = time.Now().UTC()

	err = a.persistence.Chatbots().Save(ctx, chatbot)
	if err != nil {
		return nil, fmt.Errorf("failed to activate chatbot: %w", err)
	}

	return chatbot, nil
}

// Archive retires a chatbot. Live conversations on it run to completion;
// new conversations can no longer select it.
func (a *Activation) Archive(ctx context.Context, chatbotID string) (*models.Chatbot, error) {
	chatbot, err := a.persistence.Chatbots().ByID(ctx, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}

	chatbot.Status = models.ChatbotStatusArchived
	chatbot.IsActive = false
	chatbot.UpdatedAt = time.Now().UTC()

	err = a.persistence.Chatbots().Save(ctx, chatbot)
	if err != nil {
		return nil, fmt.Errorf("failed to archive chatbot: %w", err)
	}

	return chatbot, nil
}

// ValidateForActivation ensures a chatbot's graph is structurally sound.
func (a *Activation) ValidateForActivation(chatbot *models.Chatbot) error {
	if chatbot == nil {
		return ErrChatbotNil
	}

	if chatbot.Name == "" {
		return ErrChatbotNameRequired
	}

	if len(chatbot.Nodes) == 0 {
		return ErrNodesRequired
	}

	graph := flow.New(chatbot)

	_, err := graph.ResolveStartNode()
	if err != nil {
		if errors.Is(err, flow.ErrNoStartNode) {
			return ErrStartNodeRequired
		}

		return err
	}

	nodeIDs := make(map[string]bool, len(chatbot.Nodes))
	for _, node := range chatbot.Nodes {
		nodeIDs[node.ID] = true
	}

	for _, edge := range chatbot.Edges {
		if !nodeIDs[edge.Source] || !nodeIDs[edge.Target] {
			return NewValidationError(
				"ValidateForActivation",
				"DANGLING_EDGE",
				fmt.Sprintf("edge %s references a missing node", edge.ID),
				ErrDanglingEdge,
			)
		}
	}

	for _, node := range chatbot.Nodes {
		if !nodeConfigured(node) {
			return NewValidationError(
				"ValidateForActivation",
				"NODE_CONFIG_MISSING",
				fmt.Sprintf("node %s (%s) is missing its configuration", node.ID, node.EffectiveType()),
				ErrNodeConfigMissing,
			)
		}
	}

	return nil
}

func nodeConfigured(node *models.Node) bool {
	switch node.EffectiveType() {
	case models.NodeTypeStart:
		return true
	case models.NodeTypeMessage:
		return node.Data.Message != nil && node.Data.Message.Text != ""
	case models.NodeTypeQuestion:
		return node.Data.Question != nil && node.Data.Question.Prompt != "" && node.Data.Question.Variable != ""
	case models.NodeTypeCondition:
		return node.Data.Condition != nil && node.Data.Condition.Expression != ""
	case models.NodeTypeAction:
		return node.Data.Action != nil && node.Data.Action.URL != ""
	default:
		return false
	}
}

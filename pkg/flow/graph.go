package flow

import (
	"github.com/waflow/waflow/pkg/models"
)

// Graph is an execution-time view over a chatbot's nodes and edges. It is
// read-only; edits happen only through the builder API.
type Graph struct {
	chatbot *models.Chatbot
	nodes   map[string]*models.Node
	// Outgoing edges per source node, preserving graph edge order.
	outgoing map[string][]*models.Edge
}

// New builds a Graph over the given chatbot definition.
func New(chatbot *models.Chatbot) *Graph {
	g := &Graph{
		chatbot:  chatbot,
		nodes:    make(map[string]*models.Node, len(chatbot.Nodes)),
		outgoing: make(map[string][]*models.Edge),
	}

	for _, node := range chatbot.Nodes {
		if _, exists := g.nodes[node.ID]; !exists {
			g.nodes[node.ID] = node
		}
	}

	for _, edge := range chatbot.Edges {
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}

	return g
}

// ChatbotID returns the owning chatbot's ID.
func (g *Graph) ChatbotID() string {
	return g.chatbot.ID
}

// ResolveStartNode returns the graph's entry node. Both start marker
// conventions are accepted; with duplicate or ambiguous markers the first
// node in graph order wins, keeping execution available rather than failing
// on ambiguity.
func (g *Graph) ResolveStartNode() (*models.Node, error) {
	for _, node := range g.chatbot.Nodes {
		if node.IsStart() {
			return node, nil
		}
	}

	return nil, NewGraphError(g.chatbot.ID, "", ErrNoStartNode)
}

// NodeByID returns the node with the given ID.
func (g *Graph) NodeByID(id string) (*models.Node, error) {
	node, ok := g.nodes[id]
	if !ok {
		return nil, NewGraphError(g.chatbot.ID, id, ErrNodeNotFound)
	}

	return node, nil
}

// OutgoingEdges returns the edges leaving the given node, in graph order.
func (g *Graph) OutgoingEdges(nodeID string) []*models.Edge {
	return g.outgoing[nodeID]
}

// NextNode follows the unique outgoing edge of a linear node. It fails with
// ErrDeadEnd when the node has no outgoing edge and is not marked terminal.
func (g *Graph) NextNode(node *models.Node) (*models.Node, error) {
	edges := g.outgoing[node.ID]
	if len(edges) == 0 {
		return nil, NewGraphError(g.chatbot.ID, node.ID, ErrDeadEnd)
	}

	return g.NodeByID(edges[0].Target)
}

// BranchTarget selects the outgoing edge whose source handle equals result
// and returns its target node. When no handle matches, the default edge is
// used if present; otherwise the lookup fails with ErrNoMatchingBranch.
func (g *Graph) BranchTarget(node *models.Node, result string) (*models.Node, error) {
	var fallback *models.Edge

	for _, edge := range g.outgoing[node.ID] {
		if edge.SourceHandle == result {
			return g.NodeByID(edge.Target)
		}

		if fallback == nil && edge.IsDefault() {
			fallback = edge
		}
	}

	if fallback != nil {
		return g.NodeByID(fallback.Target)
	}

	return nil, NewGraphError(g.chatbot.ID, node.ID, ErrNoMatchingBranch)
}

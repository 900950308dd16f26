package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waflow/waflow/pkg/flow"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/testutil"
)

func TestResolveStartNode(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{
			testutil.MessageNode("hello", "Hi", false),
			testutil.StartNode("begin"),
		},
		[]*models.Edge{testutil.Edge("begin", "hello")},
	))

	start, err := flow.New(chatbot).ResolveStartNode()
	require.NoError(t, err)
	assert.Equal(t, "begin", start.ID)
}

func TestResolveStartNode_NestedMarker(t *testing.T) {
	// Builder exports sometimes mark the start node inside data instead of
	// at the top level.
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{
			{ID: "begin", Data: models.NodeData{Type: models.NodeTypeStart}},
			testutil.MessageNode("hello", "Hi", true),
		},
		[]*models.Edge{testutil.Edge("begin", "hello")},
	))

	start, err := flow.New(chatbot).ResolveStartNode()
	require.NoError(t, err)
	assert.Equal(t, "begin", start.ID)
}

func TestResolveStartNode_Missing(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{testutil.MessageNode("hello", "Hi", true)},
		nil,
	))

	_, err := flow.New(chatbot).ResolveStartNode()
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrNoStartNode)
	assert.True(t, flow.IsGraphError(err))
}

func TestNodeByID(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{testutil.StartNode("begin")},
		nil,
	))
	graph := flow.New(chatbot)

	node, err := graph.NodeByID("begin")
	require.NoError(t, err)
	assert.Equal(t, "begin", node.ID)

	_, err = graph.NodeByID("missing")
	assert.ErrorIs(t, err, flow.ErrNodeNotFound)
}

func TestNextNode(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{
			testutil.StartNode("begin"),
			testutil.MessageNode("hello", "Hi", false),
			testutil.MessageNode("bye", "Bye", true),
		},
		[]*models.Edge{
			testutil.Edge("begin", "hello"),
			testutil.Edge("hello", "bye"),
		},
	))
	graph := flow.New(chatbot)

	begin, err := graph.NodeByID("begin")
	require.NoError(t, err)

	next, err := graph.NextNode(begin)
	require.NoError(t, err)
	assert.Equal(t, "hello", next.ID)

	bye, err := graph.NodeByID("bye")
	require.NoError(t, err)

	_, err = graph.NextNode(bye)
	assert.ErrorIs(t, err, flow.ErrDeadEnd)
}

func TestBranchTarget(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{
			testutil.ConditionNode("check", "{{answer}}"),
			testutil.MessageNode("yes-path", "Great", true),
			testutil.MessageNode("no-path", "Too bad", true),
			testutil.MessageNode("other", "Hm", true),
		},
		[]*models.Edge{
			testutil.BranchEdge("check", "yes-path", "yes"),
			testutil.BranchEdge("check", "no-path", "no"),
			testutil.BranchEdge("check", "other", "default"),
		},
	))
	graph := flow.New(chatbot)

	check, err := graph.NodeByID("check")
	require.NoError(t, err)

	tests := []struct {
		result string
		target string
	}{
		{result: "yes", target: "yes-path"},
		{result: "no", target: "no-path"},
		{result: "maybe", target: "other"},
	}

	for _, test := range tests {
		target, err := graph.BranchTarget(check, test.result)
		require.NoError(t, err)
		assert.Equal(t, test.target, target.ID)
	}
}

func TestBranchTarget_NoMatch(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{
			testutil.ConditionNode("check", "{{answer}}"),
			testutil.MessageNode("yes-path", "Great", true),
		},
		[]*models.Edge{testutil.BranchEdge("check", "yes-path", "yes")},
	))
	graph := flow.New(chatbot)

	check, err := graph.NodeByID("check")
	require.NoError(t, err)

	_, err = graph.BranchTarget(check, "no")
	assert.ErrorIs(t, err, flow.ErrNoMatchingBranch)

	var graphErr *flow.GraphError

	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, "check", graphErr.NodeID)
	assert.Equal(t, chatbot.ID, graphErr.ChatbotID)
}

func TestOutgoingEdges_PreservesOrder(t *testing.T) {
	chatbot := testutil.CreateTestChatbot(testutil.WithGraph(
		[]*models.Node{testutil.ConditionNode("check", "{{x}}")},
		[]*models.Edge{
			testutil.BranchEdge("check", "a", "1"),
			testutil.BranchEdge("check", "b", "2"),
			testutil.BranchEdge("check", "c", "3"),
		},
	))

	edges := flow.New(chatbot).OutgoingEdges("check")
	require.Len(t, edges, 3)
	assert.Equal(t, "a", edges[0].Target)
	assert.Equal(t, "b", edges[1].Target)
	assert.Equal(t, "c", edges[2].Target)
}

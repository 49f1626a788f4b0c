package overlay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connect drives the overlay through the MCP protocol the way a call UI does.
func connect(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	ctx := context.Background()

	c, err := client.NewInProcessClient(srv.MCPServer())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Start(ctx))

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "overlay-test",
		Version: "1.0.0",
	}
	_, err = c.Initialize(ctx, initRequest)
	require.NoError(t, err)
	return c
}

func callTool(t *testing.T, c *client.Client, name string, args map[string]any) Status {
	t.Helper()
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := c.CallTool(context.Background(), request)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var output string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			output += text.Text
		}
	}
	var st Status
	require.NoError(t, json.Unmarshal([]byte(output), &st))
	return st
}

func TestOverlayOverProtocol(t *testing.T) {
	f := newFixture(t)
	r := f.add(t, "take a break")
	c := connect(t, f.srv)

	tools, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 10)

	st := callTool(t, c, "trigger_test_call", map[string]any{"id": r.ID})
	assert.Equal(t, "ringing", st.State)

	st = callTool(t, c, "get_active_call", nil)
	require.NotNil(t, st.ActiveCall)
	assert.Equal(t, r.ID, st.ActiveCall.Reminder.ID)

	st = callTool(t, c, "end_call", nil)
	assert.True(t, st.Applied)
	assert.Equal(t, "idle", st.State)

	got, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
}

package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/copilotz"
	"github.com/aretw0/copilotz/pkg/actions"
	mcpadapter "github.com/aretw0/copilotz/pkg/adapters/mcp"
	"github.com/aretw0/copilotz/pkg/ports"
)

type staticChat struct{ answer string }

func (s staticChat) Execute(context.Context, ports.ChatRequest) (*ports.ChatResponse, error) {
	return &ports.ChatResponse{Answer: s.answer}, nil
}

func newServer(t *testing.T) *mcpadapter.Server {
	t.Helper()
	ctx := context.Background()
	c, err := copilotz.New(ctx, staticChat{answer: `{"message":"hello from mcp","functions":[]}`},
		copilotz.WithTools(actions.Tool{
			Name:     "echo",
			SpecType: actions.SpecShortSchema,
			Source:   actions.Native{Name: "echo"},
			Schema:   map[string]any{"message": "string!"},
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(ctx) })
	return mcpadapter.NewServer(c, "test")
}

func call(t *testing.T, s *mcpadapter.Server, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)

	resp := s.MCPServer().HandleMessage(context.Background(), raw)
	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Nil(t, decoded["error"], "unexpected error: %s", out)
	return decoded["result"].(map[string]any)
}

func callTool(t *testing.T, s *mcpadapter.Server, name string, args map[string]any) map[string]any {
	return call(t, s, "tools/call", map[string]any{"name": name, "arguments": args})
}

func TestServer_ListTools(t *testing.T) {
	res := call(t, newServer(t), "tools/list", map[string]any{})

	var names []string
	for _, tool := range res["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"chat", "get_task", "call_action"}, names)
}

func TestServer_Chat(t *testing.T) {
	res := callTool(t, newServer(t), "chat", map[string]any{"thread_id": "t1", "text": "hi"})

	structured := res["structuredContent"].(map[string]any)
	assert.Equal(t, "t1", structured["thread_id"])
	assert.Equal(t, "hello from mcp", structured["message"])
	assert.NotEqual(t, true, res["isError"])
}

func TestServer_ChatRequiresArgs(t *testing.T) {
	res := callTool(t, newServer(t), "chat", map[string]any{"text": "hi"})
	assert.Equal(t, true, res["isError"])
}

func TestServer_GetTask(t *testing.T) {
	res := callTool(t, newServer(t), "get_task", map[string]any{"thread_id": "t1"})
	structured := res["structuredContent"].(map[string]any)
	assert.Nil(t, structured["task"])
}

func TestServer_CallAction(t *testing.T) {
	s := newServer(t)

	res := callTool(t, s, "call_action", map[string]any{"name": "echo", "args": map[string]any{"message": "ping"}})
	content := res["content"].([]any)[0].(map[string]any)
	assert.JSONEq(t, `{"message":"ping"}`, content["text"].(string))

	res = callTool(t, s, "call_action", map[string]any{"name": "nope"})
	assert.Equal(t, true, res["isError"])

	res = callTool(t, s, "call_action", map[string]any{"name": "echo"})
	assert.Equal(t, true, res["isError"], fmt.Sprint(res))
}

func TestServer_ActionsResource(t *testing.T) {
	res := call(t, newServer(t), "resources/read", map[string]any{"uri": mcpadapter.ActionsURI})

	contents := res["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].(map[string]any)["text"], "echo(")
}

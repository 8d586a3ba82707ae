package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gerdsenai/optimac-control/pkg/discovery"
	"github.com/gerdsenai/optimac-control/pkg/mcpclient"
	"github.com/gerdsenai/optimac-control/pkg/registry"
)

type fakeClient struct {
	result mcpclient.ToolResult
	tools  []mcpclient.ToolDescriptor
}

func (f *fakeClient) Connect(ctx context.Context) bool { return true }
func (f *fakeClient) Pid() int                         { return os.Getpid() }
func (f *fakeClient) ListTools(ctx context.Context) []mcpclient.ToolDescriptor {
	return f.tools
}
func (f *fakeClient) ListResources(ctx context.Context) []mcpclient.ResourceDescriptor {
	return []mcpclient.ResourceDescriptor{{URI: "optimac://report"}}
}
func (f *fakeClient) ExecuteTool(ctx context.Context, name string, args map[string]any) mcpclient.ToolResult {
	return f.result
}
func (f *fakeClient) ReadResource(ctx context.Context, uri string) string { return "text body" }
func (f *fakeClient) Disconnect()                                         {}

func newTestAPI(t *testing.T) (*API, *registry.Registry) {
	t.Helper()
	fake := &fakeClient{
		tools: []mcpclient.ToolDescriptor{{Name: "optimize"}},
		result: mcpclient.ToolResult{
			Content: []mcpclient.Content{{Type: "text", Text: "done"}},
		},
	}
	reg := registry.New(&registry.Options{
		StatePath: filepath.Join(t.TempDir(), "mcp_state.json"),
		ClientFactory: func(cfg discovery.ServerConfig) registry.ProtocolClient {
			return fake
		},
	})
	reg.Register("alpha", discovery.ServerConfig{
		Name:      "alpha",
		Transport: discovery.TransportStdio,
		Command:   "tool-server",
	})
	return New(reg, nil), reg
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body []byte, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestListServers(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	var body struct {
		Servers []registry.StatusSnapshot `json:"servers"`
	}
	rec := doJSON(t, api.Handler(), http.MethodGet, "/servers", nil, &body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body.Servers, 1)
	require.Equal(t, "alpha", body.Servers[0].Name)
	require.Equal(t, registry.StatusStopped, body.Servers[0].Status)
}

func TestServerLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	api, reg := newTestAPI(t)
	var started struct {
		OK     bool                     `json:"ok"`
		Status *registry.StatusSnapshot `json:"status"`
	}
	rec := doJSON(t, api.Handler(), http.MethodPost, "/servers/alpha/start", nil, &started)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, started.OK)
	require.Equal(t, registry.StatusRunning, started.Status.Status)

	rec = doJSON(t, api.Handler(), http.MethodPost, "/servers/alpha/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, registry.StatusStopped, reg.GetStatus("alpha").Status)
}

func TestUnknownServerIs404(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/servers/ghost"},
		{http.MethodPost, "/servers/ghost/start"},
		{http.MethodPost, "/servers/ghost/stop"},
		{http.MethodPost, "/servers/ghost/restart"},
		{http.MethodGet, "/servers/ghost/tools"},
	} {
		rec := doJSON(t, api.Handler(), probe.method, probe.path, nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, "%s %s", probe.method, probe.path)
	}
}

func TestToolCall(t *testing.T) {
	t.Parallel()

	api, reg := newTestAPI(t)
	payload := []byte(`{"name": "optimize", "arguments": {"level": 2}}`)
	var result mcpclient.ToolResult
	rec := doJSON(t, api.Handler(), http.MethodPost, "/servers/alpha/tools/call", payload, &result)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, result.IsError)
	require.Equal(t, "done", result.Content[0].Text)
	require.Equal(t, 1, reg.GetStatus("alpha").RequestCount)
}

func TestToolCallRejectsBadBody(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/servers/alpha/tools/call", []byte(`{}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListToolsAndResources(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	var tools struct {
		Tools []mcpclient.ToolDescriptor `json:"tools"`
	}
	doJSON(t, api.Handler(), http.MethodGet, "/servers/alpha/tools", nil, &tools)
	require.Len(t, tools.Tools, 1)
	require.Equal(t, "optimize", tools.Tools[0].Name)

	var resources struct {
		Resources []mcpclient.ResourceDescriptor `json:"resources"`
	}
	doJSON(t, api.Handler(), http.MethodGet, "/servers/alpha/resources", nil, &resources)
	require.Len(t, resources.Resources, 1)
}

func TestResourceReadRequiresURI(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/servers/alpha/resources/read", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Contents []mcpclient.Content `json:"contents"`
	}
	rec = doJSON(t, api.Handler(), http.MethodGet, "/servers/alpha/resources/read?uri=optimac%3A%2F%2Freport", nil, &body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text body", body.Contents[0].Text)
}

func TestCORSHeadersPresent(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

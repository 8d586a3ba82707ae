package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gerdsenai/optimac-control/pkg/discovery"
)

func httpConfig(url string) discovery.ServerConfig {
	return discovery.ServerConfig{
		Name:      "remote",
		Transport: discovery.TransportHTTP,
		URL:       url,
	}
}

func TestConnectHTTPHealthProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	require.True(t, client.Connect(context.Background()))
	require.True(t, client.Connected())

	// Idempotent: a second call succeeds without re-probing.
	srv.Close()
	require.True(t, client.Connect(context.Background()))
}

func TestConnectHTTPFailsOnNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	require.False(t, client.Connect(context.Background()))
	require.False(t, client.Connected())
}

func TestBearerTokenSentOnEveryRequest(t *testing.T) {
	t.Parallel()

	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/tools":
			_ = json.NewEncoder(w).Encode(map[string]any{"tools": []ToolDescriptor{{Name: "ping"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := httpConfig(srv.URL)
	cfg.Auth = &discovery.Auth{Type: "bearer", Token: "secret-token"}
	client := New(cfg, nil)

	tools := client.ListTools(context.Background())
	require.Len(t, tools, 1)
	require.GreaterOrEqual(t, len(seen), 2)
	for _, h := range seen {
		require.Equal(t, "Bearer secret-token", h)
	}
}

func TestListToolsMemoized(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/tools":
			hits++
			_ = json.NewEncoder(w).Encode(map[string]any{"tools": []ToolDescriptor{
				{Name: "optimize", Description: "run optimization"},
			}})
		}
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	first := client.ListTools(context.Background())
	second := client.ListTools(context.Background())

	require.Equal(t, first, second)
	require.Equal(t, 1, hits)
	require.Equal(t, "optimize", first[0].Name)
}

func TestListResourcesMemoized(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/resources":
			hits++
			_ = json.NewEncoder(w).Encode(map[string]any{"resources": []ResourceDescriptor{
				{URI: "optimac://report", Name: "report"},
			}})
		}
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	first := client.ListResources(context.Background())
	client.ListResources(context.Background())

	require.Equal(t, 1, hits)
	require.Equal(t, "optimac://report", first[0].URI)
}

func TestExecuteToolHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/tools/call":
			var req struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "echo", req.Name)
			require.Equal(t, "hi", req.Arguments["message"])
			_ = json.NewEncoder(w).Encode(ToolResult{Content: []Content{{Type: "text", Text: "hi"}}})
		}
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	result := client.ExecuteTool(context.Background(), "echo", map[string]any{"message": "hi"})

	require.False(t, result.IsError)
	require.Equal(t, "hi", result.Content[0].Text)
}

func TestExecuteToolHTTPNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	result := client.ExecuteTool(context.Background(), "boom", nil)

	require.True(t, result.IsError)
	require.Equal(t, "HTTP 500", result.Content[0].Text)
}

func TestExecuteToolNotConnected(t *testing.T) {
	t.Parallel()

	// Unreachable endpoint: connect fails, invocation must not block or panic.
	client := New(httpConfig("http://127.0.0.1:1"), &Options{Timeout: 2 * time.Second})
	result := client.ExecuteTool(context.Background(), "anything", nil)

	require.True(t, result.IsError)
	require.Equal(t, "Not connected", result.Content[0].Text)
}

func TestReadResourceHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/resources/read":
			require.Equal(t, "optimac://report", r.URL.Query().Get("uri"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"contents": []Content{{Type: "text", Text: "report body"}},
			})
		}
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	require.Equal(t, "report body", client.ReadResource(context.Background(), "optimac://report"))
}

func TestReadResourceEmptyOnFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(httpConfig(srv.URL), nil)
	require.Equal(t, "", client.ReadResource(context.Background(), "optimac://missing"))
}

func TestConnectStdioMissingCommand(t *testing.T) {
	t.Parallel()

	client := New(discovery.ServerConfig{
		Name:      "ghost",
		Transport: discovery.TransportStdio,
		Command:   "/nonexistent/tool-server",
	}, &Options{Timeout: 5 * time.Second})

	require.False(t, client.Connect(context.Background()))
	require.Equal(t, 0, client.Pid())

	result := client.ExecuteTool(context.Background(), "anything", nil)
	require.True(t, result.IsError)
	require.Equal(t, "Not connected", result.Content[0].Text)
}

func TestConnectStdioHandshakeTimeout(t *testing.T) {
	t.Parallel()

	// A child that never answers the handshake must be killed within the
	// configured timeout instead of being left running with Connect blocked
	// on its open stdout. The child records its pid so the test can verify
	// it is gone afterward.
	pidFile := filepath.Join(t.TempDir(), "pid")
	client := New(discovery.ServerConfig{
		Name:      "silent",
		Transport: discovery.TransportStdio,
		Command:   "sh",
		Args:      []string{"-c", "echo $$ > " + pidFile + " && exec sleep 60"},
	}, &Options{Timeout: 1 * time.Second})

	start := time.Now()
	result := client.ExecuteTool(context.Background(), "anything", nil)
	require.True(t, result.IsError)
	require.Equal(t, "Not connected", result.Content[0].Text)
	require.Less(t, time.Since(start), 10*time.Second)
	require.False(t, client.Connected())

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	require.Error(t, proc.Signal(syscall.Signal(0)), "child process still running")
}

func TestDisconnectWithoutConnect(t *testing.T) {
	t.Parallel()

	client := New(httpConfig("http://127.0.0.1:1"), nil)
	client.Disconnect() // no-op
	require.False(t, client.Connected())
}

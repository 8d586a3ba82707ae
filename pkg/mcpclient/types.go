package mcpclient

import "encoding/json"

// ToolDescriptor describes one named tool exposed by a server. InputSchema is
// opaque JSON carried through unexamined.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceDescriptor describes one URI-addressed readable artifact.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Content is a single item of tool output or resource text.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of a tool invocation. IsError marks a failure
// reported by the server or by the client itself; it is a first-class result,
// never surfaced as a Go error.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func errorResult(text string) ToolResult {
	return ToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}

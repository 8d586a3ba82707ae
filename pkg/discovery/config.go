package discovery

// Transport identifies the channel used to reach a configured server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Auth carries the authentication sub-object of an HTTP server entry. It is
// passed through from the config file unchanged; only bearer tokens are
// honored by the protocol client.
type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ServerConfig is the normalized description of one tool server. Exactly one
// transport variant is populated: Command/Args/Env for stdio, URL/Auth for
// HTTP. Values are immutable once produced by the locator.
type ServerConfig struct {
	Name      string            `json:"name"`
	Transport Transport         `json:"type"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Auth      *Auth             `json:"auth,omitempty"`
	// Source records the config file the entry was read from. Diagnostic only.
	Source string `json:"source,omitempty"`
}

// IsStdio reports whether the config describes a stdio-launched server.
func (c ServerConfig) IsStdio() bool { return c.Transport == TransportStdio }

// IsHTTP reports whether the config describes an HTTP-reachable server.
func (c ServerConfig) IsHTTP() bool { return c.Transport == TransportHTTP }

// BearerToken returns the configured bearer token, if any. Auth entries of
// other types are ignored.
func (c ServerConfig) BearerToken() (string, bool) {
	if c.Auth != nil && c.Auth.Type == "bearer" && c.Auth.Token != "" {
		return c.Auth.Token, true
	}
	return "", false
}

package httpclient

import "net/http"

// AuthType identifies the authentication method.
type AuthType string

const (
	// AuthNone disables authentication.
	AuthNone AuthType = ""
	// AuthBearer uses Bearer token authentication.
	AuthBearer AuthType = "bearer"
	// AuthBasic uses HTTP Basic authentication.
	AuthBasic AuthType = "basic"
	// AuthAPIKey uses API key authentication (header or query parameter).
	AuthAPIKey AuthType = "api_key"
)

// AuthConfig configures request authentication.
type AuthConfig struct {
	// Type is the authentication method.
	Type AuthType `yaml:"type" mapstructure:"type"`
	// Token is the bearer token (AuthBearer).
	Token string `yaml:"token" mapstructure:"token"`
	// Username is the basic auth username (AuthBasic).
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the basic auth password (AuthBasic).
	Password string `yaml:"password" mapstructure:"password"`
	// Key is the API key value (AuthAPIKey).
	Key string `yaml:"key" mapstructure:"key"`
	// In specifies where to place the API key: "header" (default) or "query".
	In string `yaml:"in" mapstructure:"in"`
	// Name is the header or query parameter name. Defaults to "X-API-Key".
	Name string `yaml:"name" mapstructure:"name"`
}

// apply applies authentication to an HTTP request.
func (a *AuthConfig) apply(req *http.Request) {
	if a == nil {
		return
	}
	switch a.Type {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		name := a.Name
		if name == "" {
			name = "X-API-Key"
		}
		if a.In == "query" {
			q := req.URL.Query()
			q.Set(name, a.Key)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(name, a.Key)
		}
	}
}

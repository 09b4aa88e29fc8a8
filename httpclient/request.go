package httpclient

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// Request describes one logical outbound call.
type Request struct {
	// Method is the HTTP method. Defaults to GET.
	Method string
	// URL is the absolute target URL.
	URL string
	// Headers are request-specific headers (merged with client defaults).
	Headers map[string]string
	// Query are extra URL query parameters.
	Query map[string]string
	// Body is the request body. Accepts io.Reader, []byte, string, or any value
	// that will be JSON-encoded.
	Body any
	// Auth is applied to every attempt.
	Auth *AuthConfig
	// AllowedStatuses are error statuses the caller treats as a normal answer,
	// such as 404 for a lookup that found nothing.
	AllowedStatuses []int
}

func (r Request) allows(status int) bool {
	return status < 400 || slices.Contains(r.AllowedStatuses, status)
}

// Response is the result of an HTTP request.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Headers are the response headers.
	Headers map[string]string
	// Body is the raw response body.
	Body []byte
	// Attempts is the number of attempts the call took.
	Attempts int
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HostKey returns the default circuit key for rawURL: its host, with the port
// when one is given explicitly.
func HostKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errMissingHost}
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		return net.JoinHostPort(host, port), nil
	}
	return host, nil
}

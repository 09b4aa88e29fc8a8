package logger

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_=.+/]+`)
	phonePattern  = regexp.MustCompile(`\+\d[\d\-\s]{8,14}\d`)

	sensitiveKeys = []string{
		"password", "passwd", "pwd",
		"api_key", "apikey", "api-key",
		"token", "secret", "auth",
		"credential", "private_key", "privatekey",
	}
)

// Redact returns a copy of fields with sensitive values masked. Values under
// credential-like keys are replaced outright; string values elsewhere have
// e-mail addresses, bearer tokens and phone-like digit runs masked in place.
// Nested maps are walked recursively.
func Redact(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return Redact(val)
	case string:
		if isSensitiveKey(key) {
			return MaskSecret(val)
		}
		return RedactString(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = redactValue(key, s).(string)
		}
		return out
	default:
		if isSensitiveKey(key) {
			return redacted
		}
		return v
	}
}

// RedactString masks e-mail addresses, bearer tokens and phone numbers in s.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer "+redacted)
	s = emailPattern.ReplaceAllStringFunc(s, maskEmail)
	s = phonePattern.ReplaceAllString(s, redacted)
	return s
}

// RedactURL strips userinfo and masks query parameter values, keeping the
// scheme, host and path intact so a log line still identifies the upstream.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactString(raw)
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, redacted)
		}
		u.RawQuery = q.Encode()
	}
	u.Path = RedactString(u.Path)
	u.RawPath = ""
	return u.String()
}

// MaskSecret keeps the first and last four characters of long values and
// masks everything else.
func MaskSecret(value string) string {
	switch {
	case value == "":
		return value
	case len(value) <= 2:
		return strings.Repeat("*", len(value))
	case len(value) <= 8:
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	default:
		return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return redacted
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 3 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:3] + "***" + domain
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

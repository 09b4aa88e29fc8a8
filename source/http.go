package source

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/kbukum/fanout/httpclient"
)

// Executor performs a resilient call. *httpclient.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req httpclient.Request, circuitKey string) (*httpclient.Response, error)
}

// HTTPSpec describes the request an HTTP source makes.
type HTTPSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Auth    *httpclient.AuthConfig

	// FoundPath is a dotted path into the JSON response whose truthiness
	// decides Found. Empty means any 2xx answer is a match.
	FoundPath string
	// ConfidencePath is a dotted path to a number in [0, 1].
	ConfidencePath string
	// NotFoundStatuses are statuses meaning "no match". Defaults to 404.
	NotFoundStatuses []int
}

// HTTP builds a task that calls spec through client, using name as the
// circuit key so each logical source has its own breaker.
func HTTP(name string, client Executor, spec HTTPSpec) Task {
	notFound := spec.NotFoundStatuses
	if len(notFound) == 0 {
		notFound = []int{404}
	}

	return Task{
		Name: name,
		Run: func(ctx context.Context) Result {
			resp, err := client.Execute(ctx, httpclient.Request{
				Method:          spec.Method,
				URL:             spec.URL,
				Headers:         spec.Headers,
				Body:            spec.Body,
				Auth:            spec.Auth,
				AllowedStatuses: notFound,
			}, name)
			if err != nil {
				return FromError(err)
			}
			if slices.Contains(notFound, resp.StatusCode) {
				return NotFound()
			}
			if len(resp.Body) == 0 {
				return OK(nil).WithFound(spec.FoundPath == "")
			}

			var doc any
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				return Err(CodeDecode, "response is not valid JSON: "+err.Error())
			}

			res := OK(json.RawMessage(resp.Body))
			if spec.FoundPath != "" {
				v, ok := lookup(doc, spec.FoundPath)
				res = res.WithFound(ok && truthy(v))
			}
			if spec.ConfidencePath != "" && res.Found {
				if v, ok := lookup(doc, spec.ConfidencePath); ok {
					if f, ok := number(v); ok {
						res = res.WithConfidence(f)
					}
				}
			}
			return res
		},
	}
}

// lookup walks a dotted path through decoded JSON. Numeric segments index arrays.
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

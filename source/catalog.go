package source

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/httpclient"
)

// InputPlaceholder is replaced with the query input in URL, header and body templates.
const InputPlaceholder = "{{input}}"

// Config describes one configured HTTP source.
type Config struct {
	Name             string                 `yaml:"name" mapstructure:"name" validate:"required"`
	QueryTypes       []string               `yaml:"query_types" mapstructure:"query_types" validate:"required,min=1,dive,required"`
	Method           string                 `yaml:"method" mapstructure:"method" validate:"omitempty,oneof=GET POST PUT"`
	URL              string                 `yaml:"url" mapstructure:"url" validate:"required"`
	Headers          map[string]string      `yaml:"headers" mapstructure:"headers"`
	Body             string                 `yaml:"body" mapstructure:"body"`
	Auth             *httpclient.AuthConfig `yaml:"auth" mapstructure:"auth"`
	FoundPath        string                 `yaml:"found_path" mapstructure:"found_path"`
	ConfidencePath   string                 `yaml:"confidence_path" mapstructure:"confidence_path"`
	NotFoundStatuses []int                  `yaml:"not_found_statuses" mapstructure:"not_found_statuses"`
}

// Catalog maps query types to the configured HTTP sources serving them.
type Catalog struct {
	client Executor
	byType map[string][]Config
}

// NewCatalog indexes sources by query type. Source names must be unique.
func NewCatalog(client Executor, sources []Config) (*Catalog, error) {
	c := &Catalog{client: client, byType: make(map[string][]Config)}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s.Name == "" {
			return nil, fmt.Errorf("source: name is required")
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("source: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if _, err := url.Parse(strings.ReplaceAll(s.URL, InputPlaceholder, "x")); err != nil {
			return nil, fmt.Errorf("source %s: invalid url: %w", s.Name, err)
		}
		for _, qt := range s.QueryTypes {
			c.byType[qt] = append(c.byType[qt], s)
		}
	}
	return c, nil
}

// QueryTypes returns the query types with at least one source, sorted.
func (c *Catalog) QueryTypes() []string {
	types := make([]string, 0, len(c.byType))
	for qt := range c.byType {
		types = append(types, qt)
	}
	sort.Strings(types)
	return types
}

// Tasks builds one task per source registered for queryType.
func (c *Catalog) Tasks(queryType, input string) ([]Task, error) {
	sources, ok := c.byType[queryType]
	if !ok {
		return nil, apperrors.InvalidInput("query_type", fmt.Sprintf("unknown query type %q", queryType))
	}

	tasks := make([]Task, 0, len(sources))
	for _, s := range sources {
		tasks = append(tasks, HTTP(s.Name, c.client, expand(s, input)))
	}
	return tasks, nil
}

func expand(s Config, input string) HTTPSpec {
	spec := HTTPSpec{
		Method:           s.Method,
		URL:              strings.ReplaceAll(s.URL, InputPlaceholder, url.QueryEscape(input)),
		Auth:             s.Auth,
		FoundPath:        s.FoundPath,
		ConfidencePath:   s.ConfidencePath,
		NotFoundStatuses: s.NotFoundStatuses,
	}
	if len(s.Headers) > 0 {
		spec.Headers = make(map[string]string, len(s.Headers))
		headerInput := stripControl(input)
		for k, v := range s.Headers {
			spec.Headers[k] = strings.ReplaceAll(v, InputPlaceholder, headerInput)
		}
	}
	if s.Body != "" {
		quoted, _ := json.Marshal(input)
		escaped := string(quoted[1 : len(quoted)-1])
		spec.Body = []byte(strings.ReplaceAll(s.Body, InputPlaceholder, escaped))
		if spec.Headers == nil {
			spec.Headers = map[string]string{}
		}
		if _, ok := spec.Headers["Content-Type"]; !ok {
			spec.Headers["Content-Type"] = "application/json"
		}
	}
	return spec
}

// stripControl drops control characters so input cannot split a header.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

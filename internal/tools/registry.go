// ABOUTME: Static registry of the operations callers can invoke by name
// ABOUTME: Built once at startup and never mutated, so lookups need no locking

package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
)

// ErrToolNotFound indicates the requested tool name is not registered.
var ErrToolNotFound = errors.New("tool not found")

// Kind selects the behaviour behind a tool name.
type Kind int

const (
	KindNaturalQuery Kind = iota + 1
	KindListTools
	KindServerInfo
)

// Tool names.
const (
	NaturalQuery = "natural_query"
	ListTools    = "list_tools"
	ServerInfo   = "server_info"
)

// Tool describes one registered operation.
type Tool struct {
	Name               string
	Description        string
	Kind               Kind
	InputSchema        json.RawMessage
	RequiresCredential bool
}

// Descriptor is the public listing form of a tool.
type Descriptor struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Parameters         json.RawMessage `json:"parameters"`
	RequiresCredential bool            `json:"requires_credential"`
}

// Descriptor returns the listing form of t.
func (t *Tool) Descriptor() Descriptor {
	return Descriptor{
		Name:               t.Name,
		Description:        t.Description,
		Parameters:         t.InputSchema,
		RequiresCredential: t.RequiresCredential,
	}
}

const naturalQuerySchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Natural language query describing the CRM data to retrieve, e.g. 'Show me leads created this week' or 'List opportunities worth more than $10,000'"
    },
    "response_format": {
      "type": "string",
      "enum": ["table", "natural", "both"],
      "default": "both",
      "description": "'table' for structured data, 'natural' for a prose summary, 'both' for both"
    },
    "api_key": {
      "type": "string",
      "description": "Optional bearer token; overrides the Authorization header"
    },
    "enable_memory": {
      "type": "boolean",
      "description": "Enable conversational memory for this query session"
    },
    "session_id": {
      "type": "string",
      "description": "Session identifier used with enable_memory"
    }
  },
  "required": ["query"]
}`

const emptySchema = `{"type":"object","properties":{}}`

// Registry maps tool names to tools. The zero value is empty; use NewRegistry.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates the registry with every built-in tool.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.add(&Tool{
		Name: NaturalQuery,
		Description: "Execute natural language queries against Ambivo CRM data. " +
			"Returns data about leads, contacts, opportunities and other entities.",
		Kind:               KindNaturalQuery,
		InputSchema:        json.RawMessage(naturalQuerySchema),
		RequiresCredential: true,
	})
	r.add(&Tool{
		Name:        ListTools,
		Description: "List the tools this gateway exposes",
		Kind:        KindListTools,
		InputSchema: json.RawMessage(emptySchema),
	})
	r.add(&Tool{
		Name:        ServerInfo,
		Description: "Report gateway name, version, uptime and configured CRM endpoint",
		Kind:        KindServerInfo,
		InputSchema: json.RawMessage(emptySchema),
	})
	return r
}

func (r *Registry) add(t *Tool) {
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate tool %q", t.Name))
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Lookup returns the named tool or a not_found error wrapping ErrToolNotFound.
func (r *Registry) Lookup(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, apierror.Wrap(apierror.KindNotFound,
			fmt.Sprintf("tool '%s' not found", name),
			fmt.Errorf("%w: %s", ErrToolNotFound, name))
	}
	return t, nil
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Descriptors returns the listing form of every tool.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, t := range r.List() {
		out = append(out, t.Descriptor())
	}
	return out
}

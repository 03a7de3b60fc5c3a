// ABOUTME: Runs tool invocations and /query requests through validate, resolve, forward, normalize
// ABOUTME: The only component that talks to the CRM forwarder

package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ambivo-corp/ambivo-gpt/internal/auth"
	"github.com/ambivo-corp/ambivo-gpt/internal/crm"
	"github.com/ambivo-corp/ambivo-gpt/internal/query"
)

// Forwarder sends a query to the CRM. *crm.Client implements it.
type Forwarder interface {
	NaturalQuery(ctx context.Context, token string, p crm.Payload) (*crm.Response, error)
}

// Invocation is a named tool call.
type Invocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is the outcome of a successful tool call.
type Result struct {
	ToolName  string
	Text      string
	RequestID string
}

// Info identifies the running gateway in server_info and listings.
type Info struct {
	Name         string
	Version      string
	Capabilities []string
	CRMEndpoint  string
	StartedAt    time.Time
}

// ServerInfoReport is the server_info tool's payload.
type ServerInfoReport struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Capabilities      []string `json:"capabilities"`
	Tools             []string `json:"tools"`
	CRMEndpoint       string   `json:"crm_endpoint"`
	DefaultCredential bool     `json:"default_credential_configured"`
	StartedAt         string   `json:"started_at"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
}

// Options configures a Dispatcher.
type Options struct {
	Registry  *Registry
	Forwarder Forwarder
	Resolver  *auth.Resolver
	Validator query.Validator
	Info      Info
	Logger    *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Dispatcher is safe for concurrent use; it holds no per-request state.
type Dispatcher struct {
	registry  *Registry
	forwarder Forwarder
	resolver  *auth.Resolver
	validator query.Validator
	info      Info
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A nil Registry gets the built-in tools
// and a nil Resolver has no default credential.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:  opts.Registry,
		forwarder: opts.Forwarder,
		resolver:  opts.Resolver,
		validator: opts.Validator,
		info:      opts.Info,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	if d.resolver == nil {
		d.resolver = auth.NewResolver("")
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatcher")
	if d.now == nil {
		d.now = time.Now
	}
	if d.info.StartedAt.IsZero() {
		d.info.StartedAt = d.now()
	}
	return d
}

// Registry returns the tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Info returns the gateway identity.
func (d *Dispatcher) Info() Info { return d.info }

// Query validates req, resolves its credential and forwards it to the CRM.
// authHeader is the raw Authorization header, possibly empty.
func (d *Dispatcher) Query(ctx context.Context, req *query.Request, authHeader string) (query.Envelope, error) {
	return d.query(ctx, uuid.NewString(), req, authHeader)
}

func (d *Dispatcher) query(ctx context.Context, requestID string, req *query.Request, authHeader string) (query.Envelope, error) {
	if err := d.validator.ValidateQuery(req); err != nil {
		return query.Envelope{}, err
	}

	cred, err := d.resolver.Resolve(auth.Sources{Inline: req.APIKey, Header: authHeader})
	if err != nil {
		return query.Envelope{}, err
	}

	log := d.logger.With("request_id", requestID, "credential", cred)
	log.Info("forwarding query",
		"format", req.ResponseFormat,
		"query_length", len(req.Query),
	)

	resp, err := d.forwarder.NaturalQuery(ctx, cred.Token, crm.Payload{
		Query:          req.Query,
		ResponseFormat: string(req.ResponseFormat),
		EnableMemory:   req.EnableMemory,
		SessionID:      req.SessionID,
	})
	if err != nil {
		log.Warn("query failed", "error", err)
		return query.Envelope{}, err
	}

	log.Info("query completed", "status", resp.Status, "attempts", resp.Attempts, "elapsed", resp.Elapsed)
	return query.Normalize(req, resp.Body, d.now()), nil
}

// Call runs one tool. Unknown names fail before any credential lookup or
// CRM call.
func (d *Dispatcher) Call(ctx context.Context, inv Invocation, authHeader string) (*Result, error) {
	if err := query.ValidateInvocation(inv.Name); err != nil {
		return nil, err
	}
	tool, err := d.registry.Lookup(inv.Name)
	if err != nil {
		d.logger.Info("unknown tool requested", "tool", inv.Name)
		return nil, err
	}

	requestID := uuid.NewString()
	res := &Result{ToolName: tool.Name, RequestID: requestID}

	switch tool.Kind {
	case KindNaturalQuery:
		req, err := query.RequestFromArguments(inv.Arguments)
		if err != nil {
			return nil, err
		}
		env, err := d.query(ctx, requestID, req, authHeader)
		if err != nil {
			return nil, err
		}
		res.Text = env.Result

	case KindListTools:
		text, err := marshalText(d.registry.Descriptors())
		if err != nil {
			return nil, err
		}
		res.Text = text

	case KindServerInfo:
		text, err := marshalText(d.ServerInfo())
		if err != nil {
			return nil, err
		}
		res.Text = text
	}

	return res, nil
}

// ServerInfo reports the gateway's identity and uptime.
func (d *Dispatcher) ServerInfo() ServerInfoReport {
	caps := d.info.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return ServerInfoReport{
		Name:              d.info.Name,
		Version:           d.info.Version,
		Capabilities:      caps,
		Tools:             d.registry.Names(),
		CRMEndpoint:       d.info.CRMEndpoint,
		DefaultCredential: d.resolver.HasDefault(),
		StartedAt:         d.info.StartedAt.UTC().Format(time.RFC3339),
		UptimeSeconds:     int64(d.now().Sub(d.info.StartedAt).Seconds()),
	}
}

func marshalText(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ABOUTME: Tests for the tool registry and dispatcher
// ABOUTME: Uses a recording fake forwarder so no CRM is contacted

package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
	"github.com/ambivo-corp/ambivo-gpt/internal/auth"
	"github.com/ambivo-corp/ambivo-gpt/internal/crm"
	"github.com/ambivo-corp/ambivo-gpt/internal/query"
)

type call struct {
	token   string
	payload crm.Payload
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []call
	body  string
	err   error
}

func (f *fakeForwarder) NaturalQuery(_ context.Context, token string, p crm.Payload) (*crm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{token: token, payload: p})
	if f.err != nil {
		return nil, f.err
	}
	return &crm.Response{Status: 200, Body: []byte(f.body), Attempts: 1}, nil
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var testStart = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestDispatcher(fwd Forwarder, defaultToken string) *Dispatcher {
	return NewDispatcher(Options{
		Forwarder: fwd,
		Resolver:  auth.NewResolver(defaultToken),
		Validator: query.Validator{MinLength: 1, MaxLength: 1000},
		Info: Info{
			Name:         "ambivo-gpt",
			Version:      "test",
			Capabilities: []string{"natural_language_queries"},
			CRMEndpoint:  "https://crm.example.com/entity/natural_query",
			StartedAt:    testStart,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return testStart.Add(90 * time.Second) },
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{NaturalQuery, ListTools, ServerInfo}, r.Names())

	tool, err := r.Lookup(NaturalQuery)
	require.NoError(t, err)
	assert.Equal(t, KindNaturalQuery, tool.Kind)
	assert.True(t, tool.RequiresCredential)
	assert.True(t, json.Valid(tool.InputSchema))

	_, err = r.Lookup("nonexistent_tool")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
	assert.Contains(t, apierror.From(err).Message, "nonexistent_tool")

	for _, d := range r.Descriptors() {
		assert.NotEmpty(t, d.Description)
		assert.True(t, json.Valid(d.Parameters), d.Name)
	}
}

func TestQuery_ForwardsAndNormalizes(t *testing.T) {
	fwd := &fakeForwarder{body: `{"natural_response":"There are 128 contacts."}`}
	d := newTestDispatcher(fwd, "")

	sid := "s-9"
	env, err := d.Query(context.Background(), &query.Request{
		Query:          "count all contacts",
		ResponseFormat: query.FormatNatural,
		SessionID:      &sid,
	}, "Bearer header-token")
	require.NoError(t, err)

	assert.Equal(t, "count all contacts", env.Query)
	assert.Equal(t, "There are 128 contacts.", env.Result)
	assert.Equal(t, query.FormatNatural, env.ResponseFormat)
	assert.True(t, env.Success)

	require.Equal(t, 1, fwd.count())
	assert.Equal(t, "header-token", fwd.calls[0].token)
	assert.Equal(t, "natural", fwd.calls[0].payload.ResponseFormat)
	require.NotNil(t, fwd.calls[0].payload.SessionID)
	assert.Equal(t, "s-9", *fwd.calls[0].payload.SessionID)
}

func TestQuery_InlineKeyWins(t *testing.T) {
	fwd := &fakeForwarder{body: `{}`}
	d := newTestDispatcher(fwd, "default-token")

	_, err := d.Query(context.Background(), &query.Request{Query: "q", APIKey: "inline-token"}, "Bearer header-token")
	require.NoError(t, err)
	assert.Equal(t, "inline-token", fwd.calls[0].token)
}

func TestQuery_ValidationFailsBeforeForwarding(t *testing.T) {
	fwd := &fakeForwarder{body: `{}`}
	d := newTestDispatcher(fwd, "default-token")

	_, err := d.Query(context.Background(), &query.Request{Query: string(make([]byte, 1001))}, "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
	assert.Zero(t, fwd.count())
}

func TestQuery_NoCredentialFailsBeforeForwarding(t *testing.T) {
	fwd := &fakeForwarder{body: `{}`}
	d := newTestDispatcher(fwd, "")

	_, err := d.Query(context.Background(), &query.Request{Query: "q"}, "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindAuthentication, apierror.KindOf(err))
	assert.Zero(t, fwd.count())
}

func TestQuery_ForwarderErrorPassesThrough(t *testing.T) {
	upstream := apierror.Wrap(apierror.KindUpstreamUnavailable, "CRM unreachable", crm.ErrUpstreamUnavailable)
	d := newTestDispatcher(&fakeForwarder{err: upstream}, "tok")

	_, err := d.Query(context.Background(), &query.Request{Query: "q"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, crm.ErrUpstreamUnavailable)
}

func TestCall_UnknownToolFailsBeforeCredential(t *testing.T) {
	fwd := &fakeForwarder{body: `{}`}
	d := newTestDispatcher(fwd, "")

	_, err := d.Call(context.Background(), Invocation{Name: "nonexistent_tool"}, "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
	assert.Zero(t, fwd.count())
}

func TestCall_EmptyName(t *testing.T) {
	_, err := newTestDispatcher(&fakeForwarder{}, "").Call(context.Background(), Invocation{}, "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
}

func TestCall_NaturalQuery(t *testing.T) {
	fwd := &fakeForwarder{body: `{"answer":"Five open deals.","rows":[{"id":1}]}`}
	d := newTestDispatcher(fwd, "")

	res, err := d.Call(context.Background(), Invocation{
		Name: NaturalQuery,
		Arguments: map[string]any{
			"query":           "open deals",
			"response_format": "natural",
			"api_key":         "arg-token",
		},
	}, "Bearer header-token")
	require.NoError(t, err)

	assert.Equal(t, NaturalQuery, res.ToolName)
	assert.Equal(t, "Five open deals.", res.Text)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "arg-token", fwd.calls[0].token)
}

func TestCall_NaturalQueryBadArguments(t *testing.T) {
	fwd := &fakeForwarder{}
	_, err := newTestDispatcher(fwd, "tok").Call(context.Background(), Invocation{
		Name:      NaturalQuery,
		Arguments: map[string]any{"query": 12.0},
	}, "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
	assert.Zero(t, fwd.count())
}

func TestCall_ReadOnlyToolsAreRepeatable(t *testing.T) {
	fwd := &fakeForwarder{}
	d := newTestDispatcher(fwd, "")

	for _, name := range []string{ListTools, ServerInfo} {
		first, err := d.Call(context.Background(), Invocation{Name: name}, "")
		require.NoError(t, err)
		second, err := d.Call(context.Background(), Invocation{Name: name}, "")
		require.NoError(t, err)

		assert.Equal(t, first.Text, second.Text, name)
		assert.NotEqual(t, first.RequestID, second.RequestID)
	}
	assert.Zero(t, fwd.count())
}

func TestCall_ListTools(t *testing.T) {
	res, err := newTestDispatcher(&fakeForwarder{}, "").Call(context.Background(), Invocation{Name: ListTools}, "")
	require.NoError(t, err)

	var listed []Descriptor
	require.NoError(t, json.Unmarshal([]byte(res.Text), &listed))
	require.Len(t, listed, 3)
	assert.Equal(t, NaturalQuery, listed[0].Name)
	assert.True(t, listed[0].RequiresCredential)
	assert.False(t, listed[1].RequiresCredential)
	assert.False(t, listed[2].RequiresCredential)
}

func TestServerInfo(t *testing.T) {
	d := newTestDispatcher(&fakeForwarder{}, "default-token")
	info := d.ServerInfo()

	assert.Equal(t, "ambivo-gpt", info.Name)
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, []string{NaturalQuery, ListTools, ServerInfo}, info.Tools)
	assert.True(t, info.DefaultCredential)
	assert.Equal(t, int64(90), info.UptimeSeconds)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.StartedAt)
}

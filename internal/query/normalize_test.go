// ABOUTME: Tests for the response normalizer across all three formats
// ABOUTME: Checks field probing order, fallbacks, and envelope metadata

package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.FixedZone("PST", -8*3600))

const crmBoth = `{
  "natural_response": "You have 42 contacts.",
  "table_data": [{"name": "Ada", "email": "ada@example.com"}],
  "success": true
}`

func TestNormalize_Formats(t *testing.T) {
	tests := []struct {
		name        string
		format      Format
		body        string
		want        string
		notContains []string
	}{
		{
			name:   "natural uses prose only",
			format: FormatNatural,
			body:   crmBoth,
			want:   "You have 42 contacts.",
		},
		{
			name:        "table uses structured only",
			format:      FormatTable,
			body:        crmBoth,
			notContains: []string{"You have 42 contacts."},
		},
		{
			name:   "table falls back to prose",
			format: FormatTable,
			body:   `{"answer": "No rows matched."}`,
			want:   "No rows matched.",
		},
		{
			name:   "table falls back to raw body",
			format: FormatTable,
			body:   `{"count": 3}`,
			want:   `{"count": 3}`,
		},
		{
			name:   "natural without prose",
			format: FormatNatural,
			body:   `{"rows": [1, 2]}`,
			want:   NoSummary,
		},
		{
			name:   "both without either falls back to raw",
			format: FormatBoth,
			body:   "plain text answer",
			want:   "plain text answer",
		},
		{
			name:   "both with prose only",
			format: FormatBoth,
			body:   `{"summary": "Three open deals."}`,
			want:   "Three open deals.",
		},
		{
			name:   "empty format is both",
			format: "",
			body:   `{"message": "ok"}`,
			want:   "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Normalize(&Request{Query: "q", ResponseFormat: tt.format}, []byte(tt.body), fixedNow)
			if tt.want != "" {
				assert.Equal(t, tt.want, env.Result)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, env.Result, s)
			}
			assert.True(t, env.Success)
		})
	}
}

func TestNormalize_TableIsIndentedJSON(t *testing.T) {
	env := Normalize(&Request{Query: "q", ResponseFormat: FormatTable}, []byte(crmBoth), fixedNow)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(env.Result), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
	assert.Contains(t, env.Result, "\n  ")
}

func TestNormalize_BothJoinsProseAndStructured(t *testing.T) {
	env := Normalize(&Request{Query: "q", ResponseFormat: FormatBoth}, []byte(crmBoth), fixedNow)

	assert.Contains(t, env.Result, "You have 42 contacts.\n\n[")
	assert.Contains(t, env.Result, `"email": "ada@example.com"`)
}

func TestNormalize_ProbeOrder(t *testing.T) {
	body := `{"message": "second", "natural_response": "first", "rows": [1], "table_data": [2]}`

	natural := Normalize(&Request{Query: "q", ResponseFormat: FormatNatural}, []byte(body), fixedNow)
	assert.Equal(t, "first", natural.Result)

	table := Normalize(&Request{Query: "q", ResponseFormat: FormatTable}, []byte(body), fixedNow)
	assert.JSONEq(t, "[2]", table.Result)
}

func TestNormalize_SkipsNonStringProseAndScalarStructured(t *testing.T) {
	body := `{"result": {"count": 5}, "data": "not a table", "response": "five"}`

	env := Normalize(&Request{Query: "q", ResponseFormat: FormatBoth}, []byte(body), fixedNow)
	assert.Equal(t, "five", env.Result)
}

func TestNormalize_EnvelopeMetadata(t *testing.T) {
	req := &Request{Query: "count all contacts", ResponseFormat: FormatNatural}
	env := Normalize(req, []byte(crmBoth), fixedNow)

	assert.Equal(t, "count all contacts", env.Query)
	assert.Equal(t, FormatNatural, env.ResponseFormat)
	assert.Equal(t, "2026-03-14T17:26:53.589793Z", env.Timestamp)

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	require.NoError(t, err)
	assert.True(t, ts.Equal(fixedNow))
}

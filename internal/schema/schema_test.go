// ABOUTME: Tests for the published OpenAPI document, manifest and help page
// ABOUTME: Re-parses the rendered output to check it round-trips through kin-openapi

package schema

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func buildTestSet(t *testing.T) *Set {
	t.Helper()
	set, err := Build(context.Background(), Options{PublicURL: "https://gpt.example.com/", Version: "v1.2.3"})
	require.NoError(t, err)
	return set
}

func TestBuild_OpenAPI(t *testing.T) {
	set := buildTestSet(t)

	doc, err := openapi3.NewLoader().LoadFromData(set.OpenAPIJSON)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	assert.Equal(t, "3.1.0", doc.OpenAPI)
	require.Len(t, doc.Servers, 1)
	assert.Equal(t, "https://gpt.example.com", doc.Servers[0].URL)

	queryPath := doc.Paths.Find("/query")
	require.NotNil(t, queryPath)
	require.NotNil(t, queryPath.Post)
	assert.Equal(t, "queryData", queryPath.Post.OperationID)

	toolsPath := doc.Paths.Find("/tools")
	require.NotNil(t, toolsPath)
	require.NotNil(t, toolsPath.Get)
	require.NotNil(t, toolsPath.Post)
	assert.Equal(t, "listTools", toolsPath.Get.OperationID)
	assert.Equal(t, "executeTools", toolsPath.Post.OperationID)

	require.NotNil(t, doc.Paths.Find("/health"))

	req := doc.Components.Schemas["QueryRequest"]
	require.NotNil(t, req)
	assert.Equal(t, []string{"query"}, req.Value.Required)
	assert.Len(t, req.Value.Properties["response_format"].Value.Enum, 3)
}

func TestBuild_YAMLMatchesJSON(t *testing.T) {
	set := buildTestSet(t)

	var fromYAML, fromJSON map[string]any
	require.NoError(t, yaml.Unmarshal(set.OpenAPIYAML, &fromYAML))
	require.NoError(t, json.Unmarshal(set.OpenAPIJSON, &fromJSON))

	assert.Equal(t, fromJSON["openapi"], fromYAML["openapi"])
	assert.NotContains(t, string(set.OpenAPIYAML), "{\"")
	assert.Contains(t, string(set.OpenAPIYAML), "operationId: queryData")
}

func TestBuild_GPTVariants(t *testing.T) {
	set := buildTestSet(t)
	loader := openapi3.NewLoader()

	clean, err := loader.LoadFromData(set.GPTCleanJSON)
	require.NoError(t, err)
	require.NoError(t, clean.Validate(context.Background()))
	assert.Len(t, clean.Paths, 1)
	require.NotNil(t, clean.Paths.Find("/query"))
	assert.Equal(t, "queryData", clean.Paths.Find("/query").Post.OperationID)
	assert.Equal(t, "https://gpt.example.com", clean.Servers[0].URL)
	require.Contains(t, clean.Components.SecuritySchemes, "bearerAuth")
	assert.Equal(t, "bearer", clean.Components.SecuritySchemes["bearerAuth"].Value.Scheme)
	assert.NotContains(t, clean.Components.Schemas, "ToolRequest")

	store, err := loader.LoadFromData(set.GPTStoreJSON)
	require.NoError(t, err)
	require.NoError(t, store.Validate(context.Background()))
	assert.Len(t, store.Paths, 1)
	op := store.Paths.Find("/query").Post
	assert.Equal(t, StoreOperationID, op.OperationID)
	require.NotNil(t, op.Security)
	assert.Contains(t, (*op.Security)[0], "ApiKeyAuth")
	assert.Contains(t, store.Info.Description, "own Ambivo API token")

	scheme := store.Components.SecuritySchemes["ApiKeyAuth"]
	require.NotNil(t, scheme)
	assert.Equal(t, "apiKey", scheme.Value.Type)
	assert.Equal(t, "header", scheme.Value.In)
	assert.Equal(t, "Authorization", scheme.Value.Name)
	assert.NotContains(t, store.Components.SecuritySchemes, "bearerAuth")

	// the full document is left untouched by the derivations
	full := set.OpenAPI
	assert.Equal(t, "queryData", full.Paths.Find("/query").Post.OperationID)
	assert.NotContains(t, full.Components.SecuritySchemes, "ApiKeyAuth")
	assert.NotEqual(t, store.Info.Description, full.Info.Description)
}

func TestBuild_Manifest(t *testing.T) {
	set := buildTestSet(t)

	var m map[string]any
	require.NoError(t, json.Unmarshal(set.ManifestJSON, &m))
	assert.Equal(t, "v1", m["schema_version"])
	assert.Equal(t, "ambivo_crm", m["name_for_model"])

	api := m["api"].(map[string]any)
	assert.Equal(t, "openapi", api["type"])
	assert.Equal(t, "https://gpt.example.com/openapi.json", api["url"])

	auth := m["auth"].(map[string]any)
	assert.Equal(t, "bearer", auth["type"])
}

func TestBuild_ManifestOverrides(t *testing.T) {
	set, err := Build(context.Background(), Options{
		PublicURL:    "https://gpt.example.com",
		ContactEmail: "ops@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", set.Manifest.ContactEmail)
	assert.Equal(t, "https://ambivo.com/logo.png", set.Manifest.LogoURL)
}

func TestBuild_Docs(t *testing.T) {
	html := string(buildTestSet(t).DocsHTML)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<h1>Ambivo CRM GPT gateway</h1>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "version v1.2.3")
}

func TestBuild_RequiresPublicURL(t *testing.T) {
	_, err := Build(context.Background(), Options{})
	assert.Error(t, err)
}

func TestJSONToYAML(t *testing.T) {
	out, err := JSONToYAML([]byte(`{"b": 1, "a": {"c": ["x", "200"]}}`))
	require.NoError(t, err)

	text := string(out)
	assert.Less(t, strings.Index(text, "b: 1"), strings.Index(text, "a:"), "key order kept")
	assert.Contains(t, text, "- x\n")
	assert.Contains(t, text, `"200"`)
	assert.NotContains(t, text, "{")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, []any{"x", "200"}, back["a"].(map[string]any)["c"])
}

// ABOUTME: Builds the published documents: OpenAPI (JSON, YAML, GPT variants), plugin manifest, help page
// ABOUTME: Everything is rendered once at startup and served as immutable bytes

package schema

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.json
var openapiJSON []byte

//go:embed docs.md
var docsMarkdown []byte

// Options controls the rendered documents.
type Options struct {
	// PublicURL is the externally reachable base URL, used as the OpenAPI
	// server and in the manifest.
	PublicURL string
	Version   string

	ContactEmail  string
	LogoURL       string
	LegalInfoURL  string
	ServerComment string
}

// Set is the rendered documents.
type Set struct {
	OpenAPI      *openapi3.T
	OpenAPIJSON  []byte
	OpenAPIYAML  []byte
	// GPTCleanJSON is POST /query alone with bearer auth.
	GPTCleanJSON []byte
	// GPTStoreJSON is POST /query alone with an Authorization API key, for
	// GPT Store listings.
	GPTStoreJSON []byte
	Manifest     Manifest
	ManifestJSON []byte
	DocsHTML     []byte
}

// Build loads and validates the embedded OpenAPI document, points its server
// at opts.PublicURL, and renders every published form.
func Build(ctx context.Context, opts Options) (*Set, error) {
	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		return nil, fmt.Errorf("public url is required")
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiJSON)
	if err != nil {
		return nil, fmt.Errorf("loading openapi document: %w", err)
	}

	desc := opts.ServerComment
	if desc == "" {
		desc = "Production server"
	}
	doc.Servers = openapi3.Servers{&openapi3.Server{URL: publicURL, Description: desc}}

	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validating openapi document: %w", err)
	}

	jsonDoc, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding openapi json: %w", err)
	}
	yamlDoc, err := JSONToYAML(jsonDoc)
	if err != nil {
		return nil, fmt.Errorf("encoding openapi yaml: %w", err)
	}

	cleanDoc, err := renderVariant(ctx, doc, cleanDocument)
	if err != nil {
		return nil, fmt.Errorf("rendering gpt clean document: %w", err)
	}
	storeDoc, err := renderVariant(ctx, doc, storeDocument)
	if err != nil {
		return nil, fmt.Errorf("rendering gpt store document: %w", err)
	}

	manifest := NewManifest(publicURL, opts)
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding plugin manifest: %w", err)
	}

	docsHTML, err := renderDocs(opts.Version)
	if err != nil {
		return nil, fmt.Errorf("rendering docs: %w", err)
	}

	return &Set{
		OpenAPI:      doc,
		OpenAPIJSON:  jsonDoc,
		OpenAPIYAML:  yamlDoc,
		GPTCleanJSON: cleanDoc,
		GPTStoreJSON: storeDoc,
		Manifest:     manifest,
		ManifestJSON: manifestJSON,
		DocsHTML:     docsHTML,
	}, nil
}

// JSONToYAML re-encodes a JSON document as block-style YAML, keeping key order.
func JSONToYAML(data []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	clearStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// clearStyle drops the flow style JSON parsing leaves on every node.
func clearStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle {
		n.Style = 0
	}
	for _, c := range n.Content {
		clearStyle(c)
	}
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Ambivo CRM GPT gateway</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
pre { background: #f4f4f4; padding: 0.75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ddd; padding: 0.25rem 0.5rem; }
footer { color: #777; margin-top: 2rem; font-size: 0.85rem; }
</style>
</head>
<body>
{{.Body}}
<footer>version {{.Version}}</footer>
</body>
</html>
`))

func renderDocs(version string) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var body bytes.Buffer
	if err := md.Convert(docsMarkdown, &body); err != nil {
		return nil, err
	}

	var page bytes.Buffer
	err := docsPage.Execute(&page, struct {
		Body    template.HTML
		Version string
	}{
		Body:    template.HTML(body.String()),
		Version: version,
	})
	if err != nil {
		return nil, err
	}
	return page.Bytes(), nil
}

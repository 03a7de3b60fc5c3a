// ABOUTME: Derives the trimmed GPT action documents from the full OpenAPI document
// ABOUTME: One keeps bearer auth, the GPT Store one declares an Authorization API key

package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Security scheme names used by the GPT action documents.
const (
	bearerScheme = "bearerAuth"
	apiKeyScheme = "ApiKeyAuth"
)

// StoreOperationID is the operationId of the query action in the GPT Store
// document.
const StoreOperationID = "queryAmbivoCRM"

// queryOnly returns a document holding just POST /query and the components
// it references, sharing schema values with doc.
func queryOnly(doc *openapi3.T) (*openapi3.T, *openapi3.Operation, error) {
	item := doc.Paths.Find("/query")
	if item == nil || item.Post == nil {
		return nil, nil, fmt.Errorf("openapi document has no POST /query")
	}
	op := *item.Post

	schemas := openapi3.Schemas{}
	for _, name := range []string{"QueryRequest", "QueryResponse", "ErrorResponse"} {
		if ref, ok := doc.Components.Schemas[name]; ok {
			schemas[name] = ref
		}
	}

	info := *doc.Info
	out := &openapi3.T{
		OpenAPI: doc.OpenAPI,
		Info:    &info,
		Servers: doc.Servers,
		Components: &openapi3.Components{
			Schemas:         schemas,
			Responses:       doc.Components.Responses,
			SecuritySchemes: openapi3.SecuritySchemes{},
		},
		Paths: openapi3.Paths{"/query": &openapi3.PathItem{Post: &op}},
	}
	return out, &op, nil
}

// cleanDocument keeps bearer auth and the queryData operation.
func cleanDocument(doc *openapi3.T) (*openapi3.T, error) {
	out, _, err := queryOnly(doc)
	if err != nil {
		return nil, err
	}
	ref, ok := doc.Components.SecuritySchemes[bearerScheme]
	if !ok {
		return nil, fmt.Errorf("openapi document has no %s security scheme", bearerScheme)
	}
	out.Components.SecuritySchemes[bearerScheme] = ref
	out.Security = *openapi3.NewSecurityRequirements().
		With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
	return out, nil
}

// storeDocument declares a per-user API key carried in the Authorization
// header. GPT Store sends it as "Bearer <key>", which the gateway resolves
// like any other header credential.
func storeDocument(doc *openapi3.T) (*openapi3.T, error) {
	out, op, err := queryOnly(doc)
	if err != nil {
		return nil, err
	}
	out.Info.Description = "Query Ambivo CRM data using natural language. Each user needs their own Ambivo API token."

	out.Components.SecuritySchemes[apiKeyScheme] = &openapi3.SecuritySchemeRef{
		Value: openapi3.NewSecurityScheme().
			WithType("apiKey").
			WithIn("header").
			WithName("Authorization").
			WithDescription("Ambivo API token, sent as Bearer <token>"),
	}
	security := openapi3.NewSecurityRequirements().
		With(openapi3.NewSecurityRequirement().Authenticate(apiKeyScheme))
	out.Security = *security

	op.OperationID = StoreOperationID
	op.Summary = "Query CRM Data"
	op.Description = "Execute natural language queries against Ambivo CRM data"
	op.Security = security
	return out, nil
}

// renderVariant builds one derived document, validates it and encodes it.
func renderVariant(ctx context.Context, doc *openapi3.T, derive func(*openapi3.T) (*openapi3.T, error)) ([]byte, error) {
	out, err := derive(doc)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(ctx); err != nil {
		return nil, err
	}
	return json.MarshalIndent(out, "", "  ")
}

// Package schema renders the documents the gateway publishes: the OpenAPI
// description of its HTTP surface (JSON and YAML), the ai-plugin.json
// manifest, and the /docs help page. They are built once by Build and never
// change while the process runs.
package schema

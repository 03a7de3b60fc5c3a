// ABOUTME: Plugin manifest served at /.well-known/ai-plugin.json
// ABOUTME: Points the actions client at the OpenAPI document under the public URL

package schema

// Manifest is the ai-plugin.json document.
type Manifest struct {
	SchemaVersion       string       `json:"schema_version"`
	NameForHuman        string       `json:"name_for_human"`
	NameForModel        string       `json:"name_for_model"`
	DescriptionForHuman string       `json:"description_for_human"`
	DescriptionForModel string       `json:"description_for_model"`
	Auth                ManifestAuth `json:"auth"`
	API                 ManifestAPI  `json:"api"`
	LogoURL             string       `json:"logo_url"`
	ContactEmail        string       `json:"contact_email"`
	LegalInfoURL        string       `json:"legal_info_url"`
}

type ManifestAuth struct {
	Type string `json:"type"`
}

type ManifestAPI struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// NewManifest builds the manifest for a gateway reachable at publicURL.
func NewManifest(publicURL string, opts Options) Manifest {
	m := Manifest{
		SchemaVersion:       "v1",
		NameForHuman:        "Ambivo CRM",
		NameForModel:        "ambivo_crm",
		DescriptionForHuman: "Access and query Ambivo CRM data using natural language",
		DescriptionForModel: "Plugin for querying Ambivo CRM data including leads, contacts, deals, and other entities using natural language queries or direct tool calls.",
		Auth:                ManifestAuth{Type: "bearer"},
		API:                 ManifestAPI{Type: "openapi", URL: publicURL + "/openapi.json"},
		LogoURL:             "https://ambivo.com/logo.png",
		ContactEmail:        "dev@ambivo.com",
		LegalInfoURL:        "https://ambivo.com/legal",
	}
	if opts.LogoURL != "" {
		m.LogoURL = opts.LogoURL
	}
	if opts.ContactEmail != "" {
		m.ContactEmail = opts.ContactEmail
	}
	if opts.LegalInfoURL != "" {
		m.LegalInfoURL = opts.LegalInfoURL
	}
	return m
}

// Package config handles configuration loading for ambivo-gpt.
//
// # Overview
//
// The effective configuration is built in layers, each overriding the last:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML or TOML file (chosen by the .toml extension)
//  3. A .env file in the working directory, loaded into the environment
//  4. AMBIVO_* environment variables
//
// # Configuration File
//
// The file is optional. Its path comes from, in order:
//
//  1. The --config flag
//  2. The AMBIVO_GPT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/ambivo-gpt/gateway.yaml, if it exists
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	crm:
//	  auth_token: "${AMBIVO_SERVICE_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  public_url: "https://gpt.ambivo.com"   # advertised in openapi.json
//
//	crm:
//	  base_url: "https://goferapi.ambivo.com"
//	  auth_token: ""          # process-wide default credential, optional
//	  timeout: "30s"          # per attempt; bare numbers are seconds
//	  max_retries: 3
//	  retry_backoff: "250ms"
//	  retry_backoff_max: "2s"
//
//	query:
//	  min_length: 1
//	  max_length: 1000
//
//	tailscale:
//	  enabled: false
//	  hostname: "ambivo-gpt"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: true            # public HTTPS for the actions client
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Environment Overrides
//
//	AMBIVO_BASE_URL     crm.base_url
//	AMBIVO_AUTH_TOKEN   crm.auth_token
//	AMBIVO_TIMEOUT      crm.timeout (seconds, e.g. "2.5", or "30s")
//	AMBIVO_MAX_RETRIES  crm.max_retries
//	AMBIVO_HTTP_ADDR    server.http_addr
//	AMBIVO_PUBLIC_URL   server.public_url
//	AMBIVO_LOG_LEVEL    logging.level
//	AMBIVO_LOG_FORMAT   logging.format
//
// # Usage
//
//	cfg, err := config.Resolve(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

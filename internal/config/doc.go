// Package config handles configuration loading for the jarvisp gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the JARVISP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/jarvisp/gateway.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; anything else is YAML. Both
// formats use the same keys.
//
// # Environment Variables
//
// Values can reference environment variables, expanded before decoding:
//
//	whatsapp:
//	  access_token: "${WHATSAPP_ACCESS_TOKEN}"
//
// Unset variables expand to the empty string. After decoding, a fixed set of
// variables (JARVISP_HTTP_ADDR, JARVISP_DB_DSN, JARVISP_JWT_SECRET,
// WHATSAPP_APP_SECRET and others, see the env tags) override file values.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	pipeline:
//	  event_timeout: "45s"
//
// Outbound timeouts (whatsapp.send_timeout, generation.timeout) must be
// shorter than pipeline.event_timeout.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: sqlite
//	  path: "./jarvisp.db"
//	whatsapp:
//	  access_token: "${WHATSAPP_ACCESS_TOKEN}"
//	  verify_token: "${WHATSAPP_VERIFY_TOKEN}"
//	  app_secret: "${WHATSAPP_APP_SECRET}"
//	generation:
//	  provider: gemini
//	  api_key: "${GEMINI_API_KEY}"
//	dedupe:
//	  backend: memory
package config

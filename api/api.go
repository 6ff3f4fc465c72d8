// Package api embeds the OpenAPI document served and enforced by the HTTP server.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte

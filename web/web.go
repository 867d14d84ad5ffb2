// Package web embeds the static pages served by dash-status.
package web

import _ "embed"

// SwaggerHTML renders the API documentation from /api/v1/openapi.json.
//
//go:embed swagger.html
var SwaggerHTML []byte

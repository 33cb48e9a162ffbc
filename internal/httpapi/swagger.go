//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"

	httpSwagger "github.com/swaggo/http-swagger"
)

const swaggerTemplate = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "version": "{{.Version}}", "description": "{{escape .Description}}"},
  "basePath": "{{.BasePath}}",
  "paths": {
    "/responses": {
      "post": {
        "summary": "Submit a request",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitRequest"}}],
        "responses": {
          "200": {"description": "handle", "schema": {"$ref": "#/definitions/SubmitResponse"}},
          "400": {"description": "bad request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "503": {"description": "submit rejected", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    },
    "/responses/{handle}": {
      "get": {
        "summary": "Poll the next chunk",
        "produces": ["application/json"],
        "parameters": [
          {"in": "path", "name": "handle", "type": "integer", "format": "uint64", "required": true},
          {"in": "query", "name": "wait_ms", "type": "integer", "description": "bounded wait, capped at 30000"}
        ],
        "responses": {"200": {"description": "chunk", "schema": {"$ref": "#/definitions/PollResponse"}}}
      },
      "delete": {
        "summary": "Release a response",
        "parameters": [{"in": "path", "name": "handle", "type": "integer", "format": "uint64", "required": true}],
        "responses": {"204": {"description": "released (or unknown)"}}
      }
    },
    "/status": {"get": {"summary": "Session status", "responses": {"200": {"description": "status", "schema": {"$ref": "#/definitions/StatusResponse"}}}}},
    "/healthz": {"get": {"summary": "Liveness", "responses": {"200": {"description": "ok"}}}}
  },
  "definitions": {
    "SubmitRequest": {"type": "object", "properties": {"work_folder": {"type": "string", "example": "/tmp/model"}, "request": {"type": "string"}}},
    "SubmitResponse": {"type": "object", "properties": {"handle": {"type": "integer", "format": "uint64"}}},
    "PollResponse": {"type": "object", "properties": {"chunk": {"type": "string"}}},
    "ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}},
    "StatusResponse": {"type": "object", "properties": {
      "work_folder": {"type": "string"},
      "live_responses": {"type": "integer"},
      "handles": {"type": "array", "items": {"type": "integer", "format": "uint64"}},
      "submits_total": {"type": "integer"},
      "releases_total": {"type": "integer"},
      "uptime_seconds": {"type": "integer"}
    }}
  }
}`

// SwaggerInfo holds the API metadata served at /swagger/doc.json.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "powerbridge API",
	Description:      "Submit, poll and release streaming inference responses.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  swaggerTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

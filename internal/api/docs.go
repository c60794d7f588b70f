package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OpenAPIJSON serves an OpenAPI v3 document describing the Reel API.
func OpenAPIJSON(c *gin.Context) {
	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "Reel API",
			"version":     "1.0.0",
			"description": "Turn long-form video into scheduled social clips.",
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
				"apiKeyAuth": map[string]any{"type": "apiKey", "in": "header", "name": "X-API-Key"},
			},
			"parameters": map[string]any{
				"REELVersion": map[string]any{
					"name": "REEL-Version", "in": "header", "required": false,
					"description": "Optional API version header. Defaults to 2026-08-01.",
					"schema":      map[string]any{"type": "string", "example": "2026-08-01"},
				},
				"IdempotencyKey": map[string]any{
					"name": "Idempotency-Key", "in": "header", "required": false,
					"description": "Provide for POST mutations to safely retry. First 2xx response is cached for 24h.",
					"schema":      map[string]any{"type": "string", "example": "req_6a84c5e9e2a14d0a"},
				},
			},
			"schemas": map[string]any{
				"RegisterRequest": map[string]any{"type": "object", "required": []string{"full_name", "email", "password"}, "properties": map[string]any{
					"full_name": map[string]any{"type": "string"},
					"email":     map[string]any{"type": "string", "format": "email"},
					"password":  map[string]any{"type": "string", "format": "password"},
					"handle":    map[string]any{"type": "string", "nullable": true},
				}},
				"LoginRequest": map[string]any{"type": "object", "required": []string{"email", "password"}, "properties": map[string]any{
					"email":    map[string]any{"type": "string", "format": "email"},
					"password": map[string]any{"type": "string", "format": "password"},
				}},
				"Workspace": map[string]any{"type": "object", "properties": map[string]any{
					"id":      map[string]any{"type": "string", "format": "uuid"},
					"name":    map[string]any{"type": "string"},
					"slug":    map[string]any{"type": "string"},
					"plan_id": map[string]any{"type": "string"},
					"credits": map[string]any{"type": "integer", "format": "int64"},
					"role":    map[string]any{"type": "string", "enum": []any{"owner", "admin", "member"}},
				}},
				"Video": map[string]any{"type": "object", "properties": map[string]any{
					"id":             map[string]any{"type": "string", "format": "uuid"},
					"workspace_id":   map[string]any{"type": "string", "format": "uuid"},
					"title":          map[string]any{"type": "string"},
					"source_url":     map[string]any{"type": "string", "format": "uri", "nullable": true},
					"status":         map[string]any{"type": "string", "enum": []any{"uploading", "uploaded", "processing", "ready", "failed"}},
					"duration_ms":    map[string]any{"type": "integer", "format": "int64", "nullable": true},
					"failure_reason": map[string]any{"type": "string", "nullable": true},
					"created_at":     map[string]any{"type": "string", "format": "date-time"},
				}},
				"Clip": map[string]any{"type": "object", "properties": map[string]any{
					"id":         map[string]any{"type": "string", "format": "uuid"},
					"video_id":   map[string]any{"type": "string", "format": "uuid"},
					"title":      map[string]any{"type": "string"},
					"start_ms":   map[string]any{"type": "integer", "format": "int64"},
					"end_ms":     map[string]any{"type": "integer", "format": "int64"},
					"transcript": map[string]any{"type": "string", "nullable": true},
					"status":     map[string]any{"type": "string", "enum": []any{"suggested", "rendering", "rendered", "failed"}},
					"render_url": map[string]any{"type": "string", "format": "uri", "nullable": true},
					"created_at": map[string]any{"type": "string", "format": "date-time"},
				}},
				"ScheduledPost": map[string]any{"type": "object", "properties": map[string]any{
					"id":         map[string]any{"type": "string", "format": "uuid"},
					"clip_id":    map[string]any{"type": "string", "format": "uuid", "nullable": true},
					"video_id":   map[string]any{"type": "string", "format": "uuid", "nullable": true},
					"caption":    map[string]any{"type": "string"},
					"publish_at": map[string]any{"type": "string", "format": "date-time"},
					"status":     map[string]any{"type": "string", "enum": []any{"scheduled", "publishing", "published", "partial", "failed", "canceled"}},
					"attempts":   map[string]any{"type": "integer"},
					"created_at": map[string]any{"type": "string", "format": "date-time"},
				}},
				"APIKeyInfo": map[string]any{"type": "object", "properties": map[string]any{
					"id":           map[string]any{"type": "string", "format": "uuid"},
					"name":         map[string]any{"type": "string"},
					"key_prefix":   map[string]any{"type": "string"},
					"created_at":   map[string]any{"type": "string", "format": "date-time"},
					"last_used_at": map[string]any{"type": "string", "format": "date-time", "nullable": true},
					"expires_at":   map[string]any{"type": "string", "format": "date-time", "nullable": true},
				}},
				"EventLog": map[string]any{"type": "object", "properties": map[string]any{
					"id":            map[string]any{"type": "integer", "format": "int64"},
					"actor_user_id": map[string]any{"type": "string", "format": "uuid", "nullable": true},
					"event_type":    map[string]any{"type": "string"},
					"details":       map[string]any{"type": "object", "additionalProperties": true},
					"created_at":    map[string]any{"type": "string", "format": "date-time"},
				}},
				"User": map[string]any{"type": "object", "properties": map[string]any{
					"id":         map[string]any{"type": "string", "format": "uuid"},
					"full_name":  map[string]any{"type": "string"},
					"email":      map[string]any{"type": "string", "format": "email"},
					"handle":     map[string]any{"type": "string", "nullable": true},
					"created_at": map[string]any{"type": "string", "format": "date-time"},
					"updated_at": map[string]any{"type": "string", "format": "date-time"},
				}},
			},
		},
		"paths": map[string]any{
			"/auth/register": map[string]any{
				"post": map[string]any{
					"summary":     "Register user",
					"requestBody": map[string]any{"required": true, "content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/RegisterRequest"}}}},
					"responses":   map[string]any{"201": map[string]any{"description": "Created"}},
				},
			},
			"/auth/login": map[string]any{
				"post": map[string]any{
					"summary":     "Login user",
					"requestBody": map[string]any{"required": true, "content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/LoginRequest"}}}},
					"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
				},
			},
			"/v1/videos": map[string]any{
				"get": map[string]any{"summary": "List videos (API key auth)", "security": []any{map[string]any{"apiKeyAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/REELVersion"}}},
			},
			"/v1/videos/{videoId}/process": map[string]any{
				"parameters": []any{map[string]any{"name": "videoId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"post":       map[string]any{"summary": "Dispatch processing (API key auth)", "security": []any{map[string]any{"apiKeyAuth": []any{}}}},
			},
			"/workspaces/mine": map[string]any{
				"get": map[string]any{"summary": "List my workspaces (JWT)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/workspaces/{workspaceId}": map[string]any{
				"parameters": []any{map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Get workspace", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"put":        map[string]any{"summary": "Update workspace", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"delete":     map[string]any{"summary": "Delete workspace", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/workspaces/{workspaceId}/videos": map[string]any{
				"parameters": []any{map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List videos", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post":       map[string]any{"summary": "Create video", "security": []any{map[string]any{"bearerAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/IdempotencyKey"}, map[string]any{"$ref": "#/components/parameters/REELVersion"}}},
			},
			"/workspaces/{workspaceId}/videos/{videoId}": map[string]any{
				"parameters": []any{
					map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
					map[string]any{"name": "videoId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
				},
				"get":    map[string]any{"summary": "Get video", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"delete": map[string]any{"summary": "Delete video", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/workspaces/{workspaceId}/videos/{videoId}/process": map[string]any{
				"parameters": []any{
					map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
					map[string]any{"name": "videoId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
				},
				"post": map[string]any{"summary": "Dispatch processing", "security": []any{map[string]any{"bearerAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/IdempotencyKey"}}},
			},
			"/workspaces/{workspaceId}/videos/{videoId}/clips": map[string]any{
				"parameters": []any{
					map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
					map[string]any{"name": "videoId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
				},
				"get": map[string]any{"summary": "List clips", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/workspaces/{workspaceId}/clips/{clipId}/render": map[string]any{
				"parameters": []any{
					map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
					map[string]any{"name": "clipId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
				},
				"post": map[string]any{"summary": "Queue clip render", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/workspaces/{workspaceId}/posts": map[string]any{
				"parameters": []any{map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List scheduled posts", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post":       map[string]any{"summary": "Schedule post", "security": []any{map[string]any{"bearerAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/IdempotencyKey"}, map[string]any{"$ref": "#/components/parameters/REELVersion"}}},
			},
			"/workspaces/{workspaceId}/apikeys": map[string]any{
				"parameters": []any{map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List API keys", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post":       map[string]any{"summary": "Create API key", "security": []any{map[string]any{"bearerAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/IdempotencyKey"}, map[string]any{"$ref": "#/components/parameters/REELVersion"}}},
			},
			"/workspaces/{workspaceId}/apikeys/{keyId}": map[string]any{
				"parameters": []any{
					map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
					map[string]any{"name": "keyId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}},
				},
				"delete": map[string]any{"summary": "Revoke API key", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/workspaces/{workspaceId}/logs": map[string]any{
				"parameters": []any{map[string]any{"name": "workspaceId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List event logs", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/me": map[string]any{
				"get": map[string]any{"summary": "Get current user", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"put": map[string]any{"summary": "Update current user", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/me/password": map[string]any{
				"put": map[string]any{"summary": "Change password", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/plans":   map[string]any{"get": map[string]any{"summary": "Plan catalog"}},
			"/healthz": map[string]any{"get": map[string]any{"summary": "Liveness"}},
			"/readyz":  map[string]any{"get": map[string]any{"summary": "Readiness"}},
		},
	}
	c.JSON(http.StatusOK, spec)
}

// SwaggerUI serves a lightweight Swagger UI page referencing /openapi.json.
func SwaggerUI(c *gin.Context) {
	html := `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Reel API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  <style>body { margin:0; background:#0b0b0b } .swagger-ui .topbar { display:none }</style>
  </head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

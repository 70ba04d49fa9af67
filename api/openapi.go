package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getOpenAPISpec serves the OpenAPI 3.1.0 document of the admin API
func (s *Server) getOpenAPISpec(c *gin.Context) {
	c.JSON(http.StatusOK, s.openAPIDocument())
}

func (s *Server) openAPIDocument() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.1.0",
		"info": map[string]interface{}{
			"title":       "manageusers admin API",
			"description": "Idempotent reconciliation of accounts, flags and group membership.",
			"version":     s.version,
		},
		"security": []map[string]interface{}{
			{"bearerAuth": []string{}},
		},
		"paths":      s.getOpenAPIPaths(),
		"components": s.getOpenAPIComponents(),
	}
}

// getOpenAPIPaths returns all API paths for OpenAPI spec
func (s *Server) getOpenAPIPaths() map[string]interface{} {
	return map[string]interface{}{
		"/health": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":  "Health Check",
				"tags":     []string{"Health"},
				"security": []interface{}{},
				"responses": map[string]interface{}{
					"200": jsonResponse("Server is healthy", "HealthResponse"),
					"503": jsonResponse("Database unreachable", "HealthResponse"),
				},
			},
		},
		"/api/v1/accounts/reconcile": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Reconcile account",
				"description": "Creates, updates or removes one account. Requires the accounts:write scope.",
				"tags":        []string{"Accounts"},
				"requestBody": jsonBody("Record"),
				"responses": map[string]interface{}{
					"200": jsonResponse("Account updated, unchanged, removed or absent", "OutcomeResponse"),
					"201": jsonResponse("Account created", "OutcomeResponse"),
					"400": s.getErrorResponse("Invalid record"),
					"403": s.getErrorResponse("Token lacks accounts:write"),
					"409": s.getErrorResponse("Email does not match the existing account"),
					"422": s.getErrorResponse("Initial password hash is not usable"),
				},
			},
		},
		"/api/v1/accounts": map[string]interface{}{
			"get": map[string]interface{}{
				"summary": "List accounts",
				"tags":    []string{"Accounts"},
				"parameters": []map[string]interface{}{
					queryParam("limit", "Page size, 1 to 1000"),
					queryParam("offset", "Number of accounts to skip"),
				},
				"responses": map[string]interface{}{
					"200": jsonResponse("A page of accounts", "AccountListResponse"),
					"400": s.getErrorResponse("Invalid paging parameters"),
				},
			},
		},
		"/api/v1/accounts/{username}": map[string]interface{}{
			"get": map[string]interface{}{
				"summary": "Get account",
				"tags":    []string{"Accounts"},
				"parameters": []map[string]interface{}{
					{"name": "username", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": jsonResponse("The account", "AccountResponse"),
					"404": s.getErrorResponse("Account not found"),
				},
			},
		},
		"/api/v1/groups": map[string]interface{}{
			"get": map[string]interface{}{
				"summary": "List groups",
				"tags":    []string{"Groups"},
				"responses": map[string]interface{}{
					"200": jsonResponse("All groups", "GroupListResponse"),
				},
			},
			"post": map[string]interface{}{
				"summary":     "Create group",
				"tags":        []string{"Groups"},
				"requestBody": jsonBody("GroupCreate"),
				"responses": map[string]interface{}{
					"201": jsonResponse("Group created", "GroupResponse"),
					"409": s.getErrorResponse("Group already exists"),
				},
			},
		},
	}
}

// getOpenAPIComponents returns reusable schemas and the security scheme
func (s *Server) getOpenAPIComponents() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	boolean := map[string]interface{}{"type": "boolean"}
	strList := map[string]interface{}{"type": "array", "items": str}

	return map[string]interface{}{
		"securitySchemes": map[string]interface{}{
			"bearerAuth": map[string]interface{}{
				"type":         "http",
				"scheme":       "bearer",
				"bearerFormat": "JWT",
			},
		},
		"schemas": map[string]interface{}{
			"Record": map[string]interface{}{
				"type":     "object",
				"required": []string{"username", "email"},
				"properties": map[string]interface{}{
					"username":              str,
					"email":                 map[string]interface{}{"type": "string", "format": "email"},
					"remove":                boolean,
					"staff":                 boolean,
					"superuser":             boolean,
					"groups":                strList,
					"unusable_password":     boolean,
					"initial_password_hash": map[string]interface{}{"type": []string{"string", "null"}},
				},
			},
			"Outcome": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"username":        str,
					"action":          map[string]interface{}{"type": "string", "enum": []string{"created", "updated", "unchanged", "removed", "absent", "skipped"}},
					"changes":         strList,
					"added_groups":    strList,
					"removed_groups":  strList,
					"profile_created": boolean,
				},
			},
			"Account": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"user_id":             str,
					"user_name":           str,
					"email":               str,
					"is_staff":            boolean,
					"is_superuser":        boolean,
					"is_active":           boolean,
					"has_usable_password": boolean,
					"groups":              strList,
					"has_profile":         boolean,
					"created_at":          map[string]interface{}{"type": "string", "format": "date-time"},
					"updated_at":          map[string]interface{}{"type": "string", "format": "date-time"},
				},
			},
			"Group": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"group_id":    str,
					"name":        str,
					"description": str,
				},
			},
			"GroupCreate": map[string]interface{}{
				"type":     "object",
				"required": []string{"name"},
				"properties": map[string]interface{}{
					"name":        str,
					"description": str,
				},
			},
			"OutcomeResponse":     envelope(ref("Outcome")),
			"AccountResponse":     envelope(ref("Account")),
			"AccountListResponse": envelope(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"accounts": map[string]interface{}{"type": "array", "items": ref("Account")},
					"total":    map[string]interface{}{"type": "integer"},
					"limit":    map[string]interface{}{"type": "integer"},
					"offset":   map[string]interface{}{"type": "integer"},
				},
			}),
			"GroupResponse":     envelope(ref("Group")),
			"GroupListResponse": envelope(map[string]interface{}{"type": "array", "items": ref("Group")}),
			"HealthResponse": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status":    str,
					"timestamp": str,
					"version":   str,
					"uptime":    str,
					"checks":    map[string]interface{}{"type": "object", "additionalProperties": str},
				},
			},
			"ErrorResponse": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"code":       map[string]interface{}{"type": "integer"},
					"message":    str,
					"error":      str,
					"details":    map[string]interface{}{"type": "object"},
					"request_id": str,
				},
			},
		},
	}
}

// getErrorResponse returns a standard error response schema
func (s *Server) getErrorResponse(description string) map[string]interface{} {
	return jsonResponse(description, "ErrorResponse")
}

func ref(schema string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + schema}
}

func jsonResponse(description, schema string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": ref(schema)},
		},
	}
}

func jsonBody(schema string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": ref(schema)},
		},
	}
}

func queryParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"schema":      map[string]interface{}{"type": "integer"},
	}
}

func envelope(data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code":    map[string]interface{}{"type": "integer"},
			"message": map[string]interface{}{"type": "string"},
			"data":    data,
		},
	}
}

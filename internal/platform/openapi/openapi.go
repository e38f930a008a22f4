// Package openapi builds an OpenAPI 3.0 document for the RIPS API from the
// schema registry, so record schemas always match the registered layouts.
package openapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/rips/internal/platform/rips"
)

// Generator builds the OpenAPI document.
type Generator struct {
	reg      *rips.Registry
	version  string
	basePath string
}

// NewGenerator creates a generator for routes mounted under basePath.
func NewGenerator(reg *rips.Registry, version, basePath string) *Generator {
	return &Generator{reg: reg, version: version, basePath: basePath}
}

// SchemaName is the component name of the record schema of one file type.
func SchemaName(version, code string) string {
	return fmt.Sprintf("Record%s%s", code, version)
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	schemas := map[string]interface{}{
		"Error": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"message": map[string]string{"type": "string"}},
		},
	}
	var versions []string
	for _, id := range g.reg.Versions() {
		versions = append(versions, id)
		fileTypes, _ := g.reg.ListFileTypes(id)
		for _, ft := range fileTypes {
			schemas[SchemaName(id, ft.Code)] = recordSchema(ft)
		}
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "RIPS API",
			"version":     g.version,
			"description": "Validation, generation and migration of RIPS billing files",
		},
		"servers": []map[string]string{
			{"url": g.basePath},
		},
		"paths": g.paths(versions),
		"components": map[string]interface{}{
			"schemas": schemas,
		},
	}
}

// recordSchema maps field layouts onto JSON schema constraints. Numbers may
// arrive as JSON numbers or numeric strings.
func recordSchema(ft *rips.FileTypeSchema) map[string]interface{} {
	props := make(map[string]interface{}, len(ft.Fields))
	var required []string
	for _, f := range ft.Fields {
		var p map[string]interface{}
		switch f.Kind {
		case rips.KindNumber:
			p = map[string]interface{}{
				"oneOf": []map[string]string{
					{"type": "number"},
					{"type": "string", "pattern": `^-?[0-9]+(\.[0-9]+)?$`},
				},
			}
		case rips.KindDate:
			p = map[string]interface{}{"type": "string", "maxLength": f.Length}
			if f.DateFormat != "" {
				p["description"] = "Date in layout " + f.DateFormat
			}
		default:
			p = map[string]interface{}{"type": "string", "maxLength": f.Length}
		}
		p["x-rips-length"] = f.Length
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	s := map[string]interface{}{
		"type":        "object",
		"title":       ft.Name,
		"description": fmt.Sprintf("%s (%s) record", ft.Name, ft.Code),
		"properties":  props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (g *Generator) paths(versions []string) map[string]interface{} {
	versionParam := map[string]interface{}{
		"name": "version", "in": "path", "required": true,
		"schema": map[string]interface{}{"type": "string", "enum": versions},
	}
	codeParam := pathParam("code")
	idParam := pathParam("id")

	return map[string]interface{}{
		"/versions": map[string]interface{}{
			"get": operation("listVersions", "List format versions", nil, nil, response("Format versions", "")),
		},
		"/versions/{version}/structure": map[string]interface{}{
			"get": operation("getStructure", "Field layout of a version",
				[]interface{}{versionParam}, nil, response("Format version", "")),
		},
		"/file-types/{code}/rules": map[string]interface{}{
			"get": operation("listRules", "Business rules of a file type",
				[]interface{}{codeParam}, nil, response("Rule set", "")),
		},
		"/versions/{version}/file-types/{code}/validate": map[string]interface{}{
			"post": operation("validateRecords", "Validate records of one file type",
				[]interface{}{versionParam, codeParam}, jsonBody(map[string]interface{}{
					"type":     "object",
					"required": []string{"records"},
					"properties": map[string]interface{}{
						"records": map[string]interface{}{"type": "array", "items": map[string]string{"type": "object"}},
					},
				}), response("Batch validation", "")),
		},
		"/versions/{version}/generate": map[string]interface{}{
			"post": operation("generate", "Generate and store RIPS files",
				[]interface{}{versionParam}, jsonBody(batchSchema(true)), map[string]interface{}{
					"201": response("Generation job", "")["200"],
					"400": errorResponse("Invalid request"),
					"404": errorResponse("Unknown version"),
				}),
		},
		"/compare": map[string]interface{}{
			"get": operation("compareVersions", "Structural differences between versions",
				[]interface{}{queryParam("from"), queryParam("to")}, nil, response("Diff report", "")),
		},
		"/migrate": map[string]interface{}{
			"post": operation("migrateBatch", "Move legacy records into a newer version",
				nil, jsonBody(batchSchema(false)), response("Migration result", "")),
		},
		"/artifacts": map[string]interface{}{
			"get": operation("listArtifacts", "List stored files",
				[]interface{}{queryParam("job_id"), queryParam("version"), queryParam("file_type"), intQueryParam("limit"), intQueryParam("offset")},
				nil, response("Paginated artifact metadata", "")),
		},
		"/artifacts/{id}": map[string]interface{}{
			"get": operation("downloadArtifact", "Download a stored file",
				[]interface{}{idParam}, nil, response("File content", "text/plain")),
			"delete": operation("deleteArtifact", "Delete a stored file",
				[]interface{}{idParam}, nil, map[string]interface{}{
					"204": map[string]interface{}{"description": "Deleted"},
					"404": errorResponse("Not found"),
				}),
		},
		"/artifacts/{id}/metadata": map[string]interface{}{
			"get": operation("getArtifactMetadata", "Metadata of a stored file",
				[]interface{}{idParam}, nil, response("Artifact metadata", "")),
		},
	}
}

func batchSchema(generate bool) map[string]interface{} {
	files := map[string]interface{}{
		"type":                 "object",
		"description":          "Records keyed by file type code",
		"additionalProperties": map[string]interface{}{"type": "array", "items": map[string]string{"type": "object"}},
	}
	if generate {
		return map[string]interface{}{
			"type":     "object",
			"required": []string{"files"},
			"properties": map[string]interface{}{
				"format": map[string]interface{}{"type": "string", "enum": []string{"fixed", "delimited", "markup"}},
				"files":  files,
			},
		}
	}
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"from", "to", "files"},
		"properties": map[string]interface{}{
			"from":  map[string]string{"type": "string"},
			"to":    map[string]string{"type": "string"},
			"files": files,
		},
	}
}

func operation(id, summary string, params []interface{}, body map[string]interface{}, responses map[string]interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{"rips"},
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = body
	}
	return op
}

func pathParam(name string) map[string]interface{} {
	return map[string]interface{}{"name": name, "in": "path", "required": true, "schema": map[string]string{"type": "string"}}
}

func queryParam(name string) map[string]interface{} {
	return map[string]interface{}{"name": name, "in": "query", "schema": map[string]string{"type": "string"}}
}

func intQueryParam(name string) map[string]interface{} {
	return map[string]interface{}{"name": name, "in": "query", "schema": map[string]string{"type": "integer"}}
}

func jsonBody(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

// response builds a 200 response. An empty mediaType means JSON.
func response(description, mediaType string) map[string]interface{} {
	if mediaType == "" {
		mediaType = "application/json"
	}
	return map[string]interface{}{
		"200": map[string]interface{}{
			"description": description,
			"content":     map[string]interface{}{mediaType: map[string]interface{}{}},
		},
	}
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Error"},
			},
		},
	}
}

// RegisterRoutes mounts the document at /openapi.json.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}

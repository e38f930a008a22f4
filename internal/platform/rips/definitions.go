package rips

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml definitions/definition.schema.json
var definitionFS embed.FS

// builtinDefinitions lists the embedded definition files in registry order.
var builtinDefinitions = []string{
	"definitions/res3374.yaml",
	"definitions/res2275.yaml",
}

type fieldDefinition struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Length     int    `yaml:"length"`
	Required   bool   `yaml:"required"`
	DateFormat string `yaml:"date_format"`
}

type fileTypeDefinition struct {
	Code            string            `yaml:"code"`
	Name            string            `yaml:"name"`
	RequiredInBatch bool              `yaml:"required_in_batch"`
	Fields          []fieldDefinition `yaml:"fields"`
}

type versionDefinition struct {
	Version   string               `yaml:"version"`
	Name      string               `yaml:"name"`
	FileTypes []fileTypeDefinition `yaml:"file_types"`
}

// DefinitionError lists every structural problem found in a definition
// document.
type DefinitionError struct {
	Source string
	Errors []string
}

func (e *DefinitionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid definition %s:", e.Source)
	for i, msg := range e.Errors {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, msg)
	}
	return sb.String()
}

// LoadDefinition parses a YAML format version definition. The document is
// first checked against the embedded JSON Schema, then decoded strictly so
// unknown keys are rejected.
func LoadDefinition(source string, data []byte) (*FormatVersion, error) {
	if err := checkDefinition(source, data); err != nil {
		return nil, err
	}

	var def versionDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode definition %s: %w", source, err)
	}

	fileTypes := make([]*FileTypeSchema, 0, len(def.FileTypes))
	for _, ftd := range def.FileTypes {
		fields := make([]FieldSpec, 0, len(ftd.Fields))
		for _, fd := range ftd.Fields {
			kind, err := ParseFieldKind(fd.Kind)
			if err != nil {
				return nil, fmt.Errorf("definition %s: file type %s: field %s: %w", source, ftd.Code, fd.Name, err)
			}
			fields = append(fields, FieldSpec{
				Name:       fd.Name,
				Kind:       kind,
				Length:     fd.Length,
				Required:   fd.Required,
				DateFormat: fd.DateFormat,
			})
		}
		ft, err := NewFileTypeSchema(ftd.Code, ftd.Name, ftd.RequiredInBatch, fields)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", source, err)
		}
		fileTypes = append(fileTypes, ft)
	}

	return NewFormatVersion(def.Version, def.Name, fileTypes)
}

func checkDefinition(source string, data []byte) error {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("parse definition %s: %w", source, err)
	}
	doc, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("convert definition %s: %w", source, err)
	}
	schema, err := definitionFS.ReadFile("definitions/definition.schema.json")
	if err != nil {
		return fmt.Errorf("read definition schema: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate definition %s: %w", source, err)
	}
	if result.Valid() {
		return nil
	}

	defErr := &DefinitionError{Source: source}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		defErr.Errors = append(defErr.Errors, field+": "+desc.Description())
	}
	return defErr
}

// DefaultRegistry loads the embedded Resolution 3374 and 2275 definitions.
func DefaultRegistry() (*Registry, error) {
	versions := make([]*FormatVersion, 0, len(builtinDefinitions))
	for _, name := range builtinDefinitions {
		data, err := definitionFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		v, err := LoadDefinition(name, data)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return NewRegistry(versions...)
}

// MustDefaultRegistry is DefaultRegistry for process start-up and tests; the
// embedded definitions are part of the binary so a failure is a build defect.
func MustDefaultRegistry() *Registry {
	r, err := DefaultRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

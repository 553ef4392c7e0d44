package capture

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaMismatch is wrapped by ValidateSchema when the body does not
// satisfy the schema.
var ErrSchemaMismatch = errors.New("schema validation failed")

type Extractor struct {
	body     string
	bodyJSON gjson.Result
	isJSON   bool
}

func NewExtractor(body string) *Extractor {
	e := &Extractor{body: body}
	if gjson.Valid(body) {
		e.bodyJSON = gjson.Parse(body)
		e.isJSON = true
	}
	return e
}

// Extract returns the value at path. The empty path yields the whole body,
// decoded when it is JSON.
func (e *Extractor) Extract(path string) (any, bool) {
	if !e.isJSON {
		if path == "" {
			return e.body, true
		}
		return nil, false
	}

	if path == "" {
		return e.bodyJSON.Value(), true
	}

	result := e.bodyJSON.Get(path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// Extract is a shorthand for NewExtractor(body).Extract(path).
func Extract(body, path string) (any, bool) {
	return NewExtractor(body).Extract(path)
}

// ExtractAll resolves every named path against body. Missing paths are left
// out of the result.
func ExtractAll(body string, paths map[string]string) map[string]any {
	extractor := NewExtractor(body)
	results := make(map[string]any)

	for name, path := range paths {
		if value, ok := extractor.Extract(path); ok {
			results[name] = value
		}
	}

	return results
}

// ValidateSchema checks body against the JSON schema stored at schemaPath.
func ValidateSchema(body, schemaPath string) error {
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	return ValidateSchemaBytes(body, schemaData)
}

// ValidateSchemaBytes checks body against an in-memory JSON schema.
func ValidateSchemaBytes(body string, schema []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewStringLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(problems, "; "))
}

package client

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// queryPayloadSchema pins the wire contract of POST /api/query. Every
// outgoing payload is validated against it before leaving the process.
//
//go:embed query_schema.json
var queryPayloadSchema []byte

func validatePayload(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("payload is not valid JSON")
	}

	schemaLoader := gojsonschema.NewBytesLoader(queryPayloadSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

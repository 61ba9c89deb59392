package clickup

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nhle/swipe/internal/source"
)

//go:embed search_response.schema.json
var searchResponseSchema []byte

const searchResponseSchemaURL = "https://schemas.swipe.local/inbox/search-response.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func searchSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(searchResponseSchema))
		if err != nil {
			compileErr = fmt.Errorf("parsing search response schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(searchResponseSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("adding search response schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(searchResponseSchemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateSearchResponse checks a raw search page against the canonical
// response contract before it is normalized.
func ValidateSearchResponse(body []byte) error {
	sch, err := searchSchema()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", source.ErrUnexpectedShape, err)
	}

	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", source.ErrUnexpectedShape, err)
	}
	return nil
}

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// validator checks tool arguments against JSON schemas, caching compiled schemas.
type validator struct {
	cache sync.Map // map[string]*gojsonschema.Schema
}

var argsValidator = &validator{}

func (v *validator) Validate(schemaData any, args map[string]any) error {
	s, err := v.compile(schemaData)
	if err != nil {
		return fmt.Errorf("invalid schema definition: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validation execution failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	if len(errs) > 3 {
		errs = append(errs[:3], fmt.Sprintf("... and %d more", len(errs)-3))
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
}

func (v *validator) compile(schemaData any) (*gojsonschema.Schema, error) {
	data, err := json.Marshal(schemaData)
	if err != nil {
		return nil, err
	}
	key := string(data)
	if s, ok := v.cache.Load(key); ok {
		return s.(*gojsonschema.Schema), nil
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, err
	}
	v.cache.Store(key, s)
	return s, nil
}

package intents

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"github.com/xela07ax/academy-automation/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaCache sync.Map

func loadSchema(intentKey string) (*gojsonschema.Schema, error) {
	if s, ok := schemaCache.Load(intentKey); ok {
		return s.(*gojsonschema.Schema), nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + intentKey + ".json")
	if err != nil {
		return nil, fmt.Errorf("intents: schema for %s: %w", intentKey, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("intents: compile schema for %s: %w", intentKey, err)
	}
	schemaCache.Store(intentKey, s)
	return s, nil
}

// validateParams проверяет params интента по встроенной JSON Schema -> INVALID_PARAMS
func validateParams(intentKey string, params map[string]any) error {
	schema, err := loadSchema(intentKey)
	if err != nil {
		return domain.WrapError(domain.CodeExecutionFailed, "params schema unavailable", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	// Через JSON, чтобы числа из Go (int) и из БД (float64) проверялись одинаково
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.WrapError(domain.CodeInvalidParams, "params are not serializable", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return domain.WrapError(domain.CodeInvalidParams, "params validation failed", err)
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return domain.NewError(domain.CodeInvalidParams, "params validation failed")
	}
	return domain.NewError(domain.CodeInvalidParams, "params validation failed: "+result.Errors()[0].String())
}

package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"cardsmith/internal/domain"
)

// validateSchema checks one variant's decoded document against the fixed
// output schema for its mode. Missing or empty required keys are a hard
// failure for that variant.
func validateSchema(doc json.RawMessage, mode domain.CardMode) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(SchemaFor(mode)),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("%w: %s", domain.ErrSchemaViolation, strings.Join(issues, "; "))
}

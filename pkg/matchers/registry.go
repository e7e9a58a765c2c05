package matchers

import (
	"fmt"

	"github.com/relayd/relay/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Registry maps enumerated provider kinds to their matcher implementations.
// Kinds without a matcher are handled by dispatch's fallback-to-all branch.
type Registry struct {
	matchers map[ProviderKind]Matcher
}

func NewRegistry(matchers ...Matcher) *Registry {
	registry := &Registry{matchers: make(map[ProviderKind]Matcher, len(matchers))}

	for _, matcher := range matchers {
		registry.matchers[matcher.Kind()] = matcher
	}

	return registry
}

func (r *Registry) ForKind(kind ProviderKind) (Matcher, bool) {
	matcher, ok := r.matchers[kind]

	return matcher, ok
}

// ValidateInput checks a trigger's input against the schema its matcher
// declares for the trigger type. Kinds or types without a schema pass.
func (r *Registry) ValidateInput(kind ProviderKind, triggerType models.TriggerType, input map[string]any) error {
	matcher, ok := r.matchers[kind]
	if !ok {
		return nil
	}

	schema, ok := matcher.InputSchemas()[triggerType]
	if !ok {
		return nil
	}

	if input == nil {
		input = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(input),
	)
	if err != nil {
		return fmt.Errorf("failed to validate trigger input: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("invalid trigger input for %s/%s: %s", kind, triggerType, result.Errors())
	}

	return nil
}

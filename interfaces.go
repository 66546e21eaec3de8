package takumi

import "context"

// Generator produces tool source from a natural-language description.
// The returned source must define a single top-level function whose
// name matches name. Implement this to plug in a different model
// provider, a template library, or a canned source map for tests.
type Generator interface {
	Generate(ctx context.Context, name, description string) (string, error)
}

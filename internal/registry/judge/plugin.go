package judge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Judge is the external LLM judgment call used by curation. It takes a
// prompt and returns a structured JSON document. Implementations must be
// bounded by the caller's context and treated as unreliable; curation falls
// back deterministically when the call fails or returns unparsable output.
type Judge interface {
	// Judge sends the prompt and returns the model's JSON response.
	Judge(ctx context.Context, system, prompt string) (json.RawMessage, error)
	// ModelName returns the model identifier used for judgment.
	ModelName() string
}

// Loader creates a Judge from config.
type Loader func(ctx context.Context) (Judge, error)

// Plugin represents a judge plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a judge plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered judge plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named judge plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown judge %q; valid: %v", name, Names())
}

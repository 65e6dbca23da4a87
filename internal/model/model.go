package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownModel is returned for a model id outside the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Model ids accepted by the completion gateway.
const (
	MistralLarge = "mistral-large"
	Llama3_70B   = "llama3-70b"
	Mixtral8x7B  = "mixtral-8x7b"
)

// Info describes one selectable model.
type Info struct {
	ID    string
	Label string
}

var catalog = []Info{
	{ID: MistralLarge, Label: "Mistral Large (fast)"},
	{ID: Llama3_70B, Label: "Llama 3 70B (quality)"},
	{ID: Mixtral8x7B, Label: "Mixtral (balanced)"},
}

// Catalog returns the fixed model set in display order.
func Catalog() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup validates id against the catalog.
func Lookup(id string) (Info, error) {
	for _, m := range catalog {
		if m.ID == id {
			return m, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
}

// Provider is the backend abstraction behind the completion gateway.
// Implementations return the raw model text; trimming and policy live in the gateway.
type Provider interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

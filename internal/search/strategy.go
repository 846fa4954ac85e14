// Package search resolves a search request into a strategy and runs it
// against the embedding and asset stores.
package search

import "fmt"

// Strategy is how a search request is served. The only implementations are
// Disabled, Text and Embedding.
type Strategy interface {
	fmt.Stringer
	strategy()
}

// Disabled rejects the request because the search feature is off.
type Disabled struct{}

// Text serves the request with a literal metadata search.
type Text struct{}

// Embedding serves the request with CLIP vector similarity.
type Embedding struct{}

func (Disabled) strategy()  {}
func (Text) strategy()      {}
func (Embedding) strategy() {}

func (Disabled) String() string  { return "disabled" }
func (Text) String() string      { return "text" }
func (Embedding) String() string { return "embedding" }

// StrategyInput is everything the selector looks at.
type StrategyInput struct {
	SearchEnabled          bool
	MachineLearningEnabled bool
	CLIPEnabled            bool
	CLIPRequested          bool
}

// SelectStrategy picks the strategy for a request. It has no side effects.
func SelectStrategy(in StrategyInput) Strategy {
	if !in.SearchEnabled {
		return Disabled{}
	}
	if in.MachineLearningEnabled && in.CLIPEnabled && in.CLIPRequested {
		return Embedding{}
	}
	return Text{}
}

// MustHandle panics on a Strategy that is not one of the known variants.
func MustHandle(s Strategy) Strategy {
	switch s.(type) {
	case Disabled, Text, Embedding:
		return s
	default:
		panic(fmt.Sprintf("search: unhandled strategy %T", s))
	}
}

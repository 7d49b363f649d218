// Package strategy defines the closed set of retrieval strategies.
package strategy

import (
	"fmt"
	"strings"
)

// Strategy selects which retrieval backends answer a query.
type Strategy string

const (
	// Auto lets the selector pick a concrete strategy per collection.
	Auto Strategy = "auto"
	// Semantic uses vector similarity only.
	Semantic Strategy = "semantic"
	// FullText uses keyword relevance only.
	FullText Strategy = "fulltext"
	// Hybrid runs both backends and fuses their scores.
	Hybrid Strategy = "hybrid"
)

// Concrete lists the strategies that can actually execute, in stable order.
var Concrete = []Strategy{Semantic, FullText, Hybrid}

// Parse converts a user supplied name. Empty input means Auto.
func Parse(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Auto:
		return Auto, nil
	case Semantic:
		return Semantic, nil
	case FullText, "full_text", "keyword":
		return FullText, nil
	case Hybrid:
		return Hybrid, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want auto, semantic, fulltext or hybrid)", s)
	}
}

// String returns the wire name.
func (s Strategy) String() string {
	return string(s)
}

// IsConcrete reports whether s names an executable strategy.
func (s Strategy) IsConcrete() bool {
	return s.Index() >= 0
}

// Index returns the position of s in Concrete, or -1 for Auto and unknown values.
func (s Strategy) Index() int {
	switch s {
	case Semantic:
		return 0
	case FullText:
		return 1
	case Hybrid:
		return 2
	default:
		return -1
	}
}

// UsesSemantic reports whether s needs the vector backend.
func (s Strategy) UsesSemantic() bool {
	return s == Semantic || s == Hybrid
}

// UsesFullText reports whether s needs the keyword backend.
func (s Strategy) UsesFullText() bool {
	return s == FullText || s == Hybrid
}

// Description returns the human readable summary shown by list commands.
func (s Strategy) Description() string {
	switch s {
	case Auto:
		return "Pick a strategy per collection from the query shape and recorded feedback"
	case Semantic:
		return "Vector similarity search; best for natural-language questions"
	case FullText:
		return "Keyword relevance search; best for exact phrases, identifiers and codes"
	case Hybrid:
		return "Run both searches and fuse normalised scores with configurable weights"
	default:
		return ""
	}
}

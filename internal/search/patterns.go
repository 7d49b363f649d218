package search

import (
	"regexp"
	"strings"
)

// Patterns for tokens that are better served by exact keyword matching.
var (
	// Quoted exact phrases: "..." or '...'
	quotedPhrasePattern = regexp.MustCompile(`"[^"]+"|'[^']+'`)

	// Error codes: ERR_*, E0001, HTTP404, *Exception, *Error types
	errorCodePattern = regexp.MustCompile(`^(ERR_\w+|E\d{3,5}|[A-Z]{2,}-?\d{2,}|\w+Exception|[A-Z]\w*Error)$`)

	// File paths: path/to/file.ext, ./file, /abs/path
	filePathPattern = regexp.MustCompile(`^(\.{0,2}/)?[\w\-.]+(/[\w\-.]+)+$|^[\w\-]+\.(go|ts|js|py|md|json|ya?ml|toml|sql|sh|txt|csv|log|conf|ini)$`)

	// Version strings: v1.2, 1.2.3, 2.0.0-rc1
	versionPattern = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?([-+][\w.]+)?$`)

	// Technical identifiers
	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]+){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)
	dottedIdentPattern    = regexp.MustCompile(`^[A-Za-z_]\w+(\.[A-Za-z_]\w*)+(\(\))?$`)
)

// tokenTrim strips sentence punctuation around a token but keeps the
// characters identifiers and paths are made of.
const tokenTrim = ",;:!?()[]{}<>`"

// exactMatchToken returns the first token of query that looks like it
// must be matched literally, and whether one was found.
func exactMatchToken(query string) (string, bool) {
	if m := quotedPhrasePattern.FindString(query); m != "" {
		return m, true
	}
	for _, field := range strings.Fields(query) {
		tok := strings.Trim(field, tokenTrim)
		tok = strings.TrimRight(tok, ".")
		if tok == "" {
			continue
		}
		if isExactMatchLikely(tok) {
			return tok, true
		}
	}
	return "", false
}

func isExactMatchLikely(tok string) bool {
	return errorCodePattern.MatchString(tok) ||
		filePathPattern.MatchString(tok) ||
		versionPattern.MatchString(tok) ||
		camelCasePattern.MatchString(tok) ||
		pascalCasePattern.MatchString(tok) ||
		snakeCasePattern.MatchString(tok) ||
		screamingSnakePattern.MatchString(tok) ||
		dottedIdentPattern.MatchString(tok)
}

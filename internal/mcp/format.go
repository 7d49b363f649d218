package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

// maxSnippetRunes bounds the content shown per result.
const maxSnippetRunes = 400

// FormatSearchResponse renders a response as markdown.
func FormatSearchResponse(query string, resp *search.SearchResponse) string {
	if resp == nil || len(resp.Results) == 0 {
		msg := fmt.Sprintf("No results found for \"%s\"", query)
		if resp != nil && len(resp.Failures) > 0 {
			msg += "\n\n" + formatFailures(resp.Failures)
		}
		return msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", resp.TotalFound)
	if resp.TotalFound != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, ", showing %d (strategy: %s", len(resp.Results), resp.Strategy)
	if resp.CacheHit {
		sb.WriteString(", cached")
	}
	if resp.Degraded {
		sb.WriteString(", degraded")
	}
	sb.WriteString(")\n\n")

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}

	if len(resp.Clusters) > 0 {
		sb.WriteString("### Clusters\n\n")
		for _, c := range resp.Clusters {
			fmt.Fprintf(&sb, "- **%s** (%s): %d result", c.Name, c.Collection, c.Count)
			if c.Count != 1 {
				sb.WriteString("s")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(resp.Failures) > 0 {
		sb.WriteString(formatFailures(resp.Failures))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatResult(sb *strings.Builder, n int, r search.ScoredResult) {
	title := r.Title
	if title == "" {
		title = r.DocumentID
	}
	fmt.Fprintf(sb, "### %d. %s\n\n", n, title)
	fmt.Fprintf(sb, "**Collection:** %s | **Score:** %.3f", r.Collection, r.Score)
	if r.RerankScore != nil {
		fmt.Fprintf(sb, " | **Rerank:** %.3f", *r.RerankScore)
	}
	if r.Cluster != "" {
		fmt.Fprintf(sb, " | **Cluster:** %s", r.Cluster)
	}
	fmt.Fprintf(sb, "\n**Result ID:** `%s`\n\n", r.ID)
	sb.WriteString(Snippet(r.Content, maxSnippetRunes))
	sb.WriteString("\n\n")
}

func formatFailures(failures []search.CollectionFailure) string {
	var sb strings.Builder
	sb.WriteString("### Unavailable collections\n\n")
	for _, f := range failures {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", f.Collection, f.Message, f.Code)
	}
	return sb.String()
}

// Snippet trims s to at most n runes, marking the cut with an ellipsis.
func Snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}

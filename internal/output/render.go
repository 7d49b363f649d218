package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

// snippetRunes bounds the content printed per result.
const snippetRunes = 240

// Table prints rows under headers with columns padded to the widest cell.
func (w *Writer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			parts[i] = style.Render(cell) + pad
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	_, _ = fmt.Fprintln(w.out, line(headers, w.styles.Label))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w.out, line(row, lipgloss.NewStyle()))
	}
}

// KeyValues prints label: value pairs with aligned values.
func (w *Writer) KeyValues(pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	for _, p := range pairs {
		label := w.styles.Label.Render(p[0] + ":")
		_, _ = fmt.Fprintf(w.out, "  %s%s %s\n", label, strings.Repeat(" ", width-len(p[0])), p[1])
	}
}

// Results prints a search response.
func (w *Writer) Results(query string, resp *search.SearchResponse) {
	s := w.styles
	if len(resp.Results) == 0 {
		w.Warningf("No results for %q", query)
		w.failures(resp.Failures)
		return
	}

	flags := []string{"strategy " + string(resp.Strategy)}
	if resp.CacheHit {
		flags = append(flags, "cached")
	}
	if resp.Degraded {
		flags = append(flags, s.Warning.Render("degraded"))
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n\n",
		s.Header.Render(fmt.Sprintf("%d of %d results", len(resp.Results), resp.TotalFound)),
		s.Dim.Render("("+strings.Join(flags, ", ")+", "+resp.Elapsed.Round(100_000).String()+")"))

	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = r.DocumentID
		}
		_, _ = fmt.Fprintf(w.out, "%s %s %s\n",
			s.Label.Render(fmt.Sprintf("%2d.", i+1)),
			s.Accent.Render(title),
			s.Score.Render(fmt.Sprintf("%.3f", r.Score)))

		meta := []string{r.Collection, string(r.Strategy)}
		if r.RerankScore != nil {
			meta = append(meta, fmt.Sprintf("rerank %.3f", *r.RerankScore))
		}
		if r.Cluster != "" {
			meta = append(meta, "cluster "+r.Cluster)
		}
		meta = append(meta, "id "+r.ID)
		_, _ = fmt.Fprintf(w.out, "    %s\n", s.Dim.Render(strings.Join(meta, " · ")))
		if c := snippet(r.Content, snippetRunes); c != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", c)
		}
		_, _ = fmt.Fprintln(w.out)
	}

	if len(resp.Clusters) > 0 {
		w.Header("Clusters")
		for _, c := range resp.Clusters {
			_, _ = fmt.Fprintf(w.out, "  %s %s\n", c.Name, s.Dim.Render(fmt.Sprintf("(%s, %d)", c.Collection, c.Count)))
		}
		w.Newline()
	}
	w.failures(resp.Failures)

	for _, ex := range resp.Explain {
		_, _ = fmt.Fprintf(w.out, "%s %s → %s (rule %s, weights %.2f/%.2f, hits %d/%d, cache %s)\n",
			s.Label.Render("explain"), ex.Collection, ex.Strategy, ex.SelectionRule,
			ex.Weights.Semantic, ex.Weights.FullText, ex.SemanticHits, ex.FullTextHits, ex.Cache)
	}
}

func (w *Writer) failures(failures []search.CollectionFailure) {
	for _, f := range failures {
		w.Warningf("%s: %s (%s)", f.Collection, f.Message, f.Code)
	}
}

// snippet flattens whitespace and trims s to n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

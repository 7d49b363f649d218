package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"slices"
	"strconv"
	"strings"
)

// FingerprintInput lists every query parameter that can change a result.
type FingerprintInput struct {
	Text             string
	Collections      []string
	Strategy         string
	SemanticWeight   float64
	FullTextWeight   float64
	MaxResults       int
	CandidatePool    int
	MinScore         float64
	UseReranking     bool
	UseClustering    bool
	ClusterThreshold float64
}

// Fingerprint returns a stable hex key for in. Collections are order
// independent. Text is compared after NormalizeText, or after
// CollapseSpace when reranking, since a reranker may score case.
func Fingerprint(in FingerprintInput) string {
	h := sha256.New()

	text := NormalizeText(in.Text)
	if in.UseReranking {
		text = CollapseSpace(in.Text)
	}
	writeField(h, "text", text)

	cols := slices.Clone(in.Collections)
	slices.Sort(cols)
	writeField(h, "collections", strconv.Itoa(len(cols)))
	for _, c := range cols {
		writeField(h, "c", c)
	}

	writeField(h, "strategy", in.Strategy)
	writeField(h, "ws", formatFloat(in.SemanticWeight))
	writeField(h, "wf", formatFloat(in.FullTextWeight))
	writeField(h, "max", strconv.Itoa(in.MaxResults))
	writeField(h, "pool", strconv.Itoa(in.CandidatePool))
	writeField(h, "min", formatFloat(in.MinScore))
	writeField(h, "rerank", strconv.FormatBool(in.UseReranking))
	writeField(h, "cluster", strconv.FormatBool(in.UseClustering))
	writeField(h, "threshold", formatFloat(in.ClusterThreshold))

	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText lowercases and collapses whitespace.
func NormalizeText(s string) string {
	return CollapseSpace(strings.ToLower(s))
}

// CollapseSpace trims s and collapses whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// writeField length-prefixes values so adjacent fields cannot run together.
func writeField(h hash.Hash, name, value string) {
	h.Write([]byte(name))
	h.Write([]byte{'='})
	h.Write([]byte(strconv.Itoa(len(value))))
	h.Write([]byte{':'})
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

//go:build ignore

// Package main generates synthetic knowledge base collections for load testing.
// Usage: go run scripts/generate-corpus.go -docs 1000 -collections 3 -output testdata/corpus
//
// Each collection is written as <output>/<collection>.jsonl, ready for
// 'kbsearch ingest <collection> <file> --create'.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

var (
	numDocs        = flag.Int("docs", 1000, "Documents per collection")
	numCollections = flag.Int("collections", 3, "Number of collections")
	outputDir      = flag.String("output", "testdata/corpus", "Output directory")
	seed           = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	collectionNames = []string{"help-center", "runbooks", "release-notes", "policies", "faq"}

	products = []string{
		"billing", "invoices", "single sign-on", "password reset", "api keys",
		"webhooks", "exports", "audit log", "workspace", "notifications",
	}
	actions = []string{
		"configure", "troubleshoot", "rotate", "enable", "disable",
		"migrate", "recover", "audit", "schedule", "revoke",
	}
	symptoms = []string{
		"times out", "returns 403", "shows a blank page", "sends duplicates",
		"is missing data", "fails after upgrade", "is slow", "rejects the request",
	}
	steps = []string{
		"Open the admin console and select the workspace.",
		"Check that the account has the owner role.",
		"Clear the browser cache and sign in again.",
		"Regenerate the credentials and update every client.",
		"Wait five minutes for the change to propagate.",
		"Contact support with the request id from the error page.",
		"Review the audit log for the affected time range.",
		"Retry the operation with a smaller batch.",
	}
)

// docTemplate is the article body: title, summary, numbered steps.
const docTemplate = `How to %s %s.

If %s %s, follow these steps:

%s
Related: %s, %s.`

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	n := min(*numCollections, len(collectionNames))
	fmt.Printf("Generating %d collections of %d documents in %s...\n", n, *numDocs, *outputDir)

	for _, name := range collectionNames[:n] {
		path := filepath.Join(*outputDir, name+".jsonl")
		if err := writeCollection(rng, path, name, *numDocs); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("  %s\n", path)
	}
}

func writeCollection(rng *rand.Rand, path, collection string, count int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < count; i++ {
		if err := enc.Encode(generateDocument(rng, collection, i)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func generateDocument(rng *rand.Rand, collection string, index int) *store.Document {
	product := pick(rng, products)
	action := pick(rng, actions)

	var body strings.Builder
	for i := 1; i <= 3+rng.Intn(3); i++ {
		fmt.Fprintf(&body, "%d. %s\n", i, pick(rng, steps))
	}

	return &store.Document{
		ID:    fmt.Sprintf("%s-%05d", collection, index),
		Title: fmt.Sprintf("%s %s", strings.ToUpper(action[:1])+action[1:], product),
		Content: fmt.Sprintf(docTemplate,
			action, product,
			product, pick(rng, symptoms),
			body.String(),
			pick(rng, products), pick(rng, products)),
		Metadata: map[string]string{
			"product": product,
			"action":  action,
		},
	}
}

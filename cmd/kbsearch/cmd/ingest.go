package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// ingestBatchSize is the number of documents saved per transaction.
const ingestBatchSize = 200

type ingestOptions struct {
	format string
	create bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <collection> <file>",
		Short: "Load documents into a collection",
		Long: `Load documents into a collection. Documents with an existing id are
replaced. Each document has an id, title, content and optional string
metadata; documents without an id get a random one.

Accepted formats, chosen by extension unless --format is set:
  jsonl  one JSON document per line (.jsonl, .ndjson, and stdin)
  json   a JSON array of documents
  yaml   a YAML sequence of documents (.yaml, .yml)

Use - as the file to read stdin. Ingest takes the data directory lock, so it
cannot run while 'kbsearch serve' is running.`,
		Example: `  kbsearch ingest runbooks runbooks.jsonl --create
  cat faq.jsonl | kbsearch ingest help-center -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "", "Input format: jsonl, json, yaml (default: from extension)")
	cmd.Flags().BoolVar(&opts.create, "create", false, "Create the collection if it does not exist")
	return cmd
}

func runIngest(cmd *cobra.Command, collection, path string, opts ingestOptions) error {
	format := opts.format
	if format == "" {
		format = formatFromPath(path)
	}

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	docs, err := readDocuments(in, format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	if opts.create {
		ok, err := st.HasCollection(ctx, collection)
		if err != nil {
			return err
		}
		if !ok {
			if err := st.CreateCollection(ctx, &store.Collection{ID: collection}); err != nil {
				return err
			}
		}
	}

	out := output.New(cmd.OutOrStdout())
	progress := output.IsTTY(cmd.OutOrStdout())
	for start := 0; start < len(docs); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(docs))
		if err := st.SaveDocuments(ctx, collection, docs[start:end]); err != nil {
			logger.Error("ingest_failed",
				slog.String("collection", collection),
				slog.Int("saved", start),
				slog.String("error", err.Error()))
			return err
		}
		if progress {
			out.Progress(end, len(docs), "documents")
		}
	}

	logger.Info("ingest_completed",
		slog.String("collection", collection),
		slog.String("source", path),
		slog.Int("documents", len(docs)))
	out.Successf("Ingested %d documents into %s", len(docs), collection)
	return nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "jsonl"
	}
}

// readDocuments decodes documents in the given format and assigns ids to
// documents that lack one.
func readDocuments(r io.Reader, format string) ([]*store.Document, error) {
	var docs []*store.Document
	switch format {
	case "jsonl":
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			var d store.Document
			if err := json.Unmarshal([]byte(text), &d); err != nil {
				return nil, kberrors.Newf(kberrors.ErrCodeInvalidDocument, "line %d: %v", line, err)
			}
			docs = append(docs, &d)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read documents: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&docs); err != nil {
			return nil, kberrors.Newf(kberrors.ErrCodeInvalidDocument, "decode JSON documents: %v", err)
		}
	case "yaml":
		if err := yaml.NewDecoder(r).Decode(&docs); err != nil && !errors.Is(err, io.EOF) {
			return nil, kberrors.Newf(kberrors.ErrCodeInvalidDocument, "decode YAML documents: %v", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q (want jsonl, json or yaml)", format)
	}

	for i, d := range docs {
		if d == nil {
			return nil, kberrors.Newf(kberrors.ErrCodeInvalidDocument, "document %d is empty", i+1)
		}
		if strings.TrimSpace(d.ID) == "" {
			d.ID = uuid.NewString()
		}
	}
	return docs, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/orchestrator"
	"github.com/fyrsmithlabs/consultd/internal/retry"
)

var ingestReplace bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [csv]",
	Short: "Load the disease reference CSV into the knowledge index",
	Long: `Chunk, embed and index the disease reference CSV.

The CSV needs a header row with at least a "name" (or "nombre") column;
symptom and description columns are optional. Without an argument the
configured knowledge.source is used.

Examples:
  # Add or update entries
  consultd ingest diseases.csv

  # Rebuild the index from scratch
  consultd ingest --replace diseases.csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := newProcess(cmd.Context())
		if err != nil {
			return err
		}
		defer proc.Close(context.Background())

		path := proc.cfg.Knowledge.Source
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no CSV given and knowledge.source is not configured")
		}
		return runIngest(cmd.Context(), proc, path, cmd.OutOrStdout())
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReplace, "replace", false, "clear the index before loading")
}

func runIngest(ctx context.Context, proc *process, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	kb, err := newKnowledgeBase(proc, retry.FromConfig(proc.cfg.Pipeline), orchestrator.NewMetrics())
	if err != nil {
		return err
	}
	defer kb.Close()

	stats, err := kb.ingester(proc.cfg.Knowledge, proc.logger.Underlying()).
		Ingest(ctx, f, knowledge.IngestOptions{Replace: ingestReplace})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	proc.logger.Info(ctx, "knowledge ingested",
		zap.String("path", path),
		zap.Int("diseases", stats.Diseases),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("duration", stats.Duration))

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

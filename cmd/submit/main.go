// Command submit is a one-shot scraper-submission simulator: it reads a
// scraped payload from a file (or stdin), runs it through
// ContentStore.Store, and enqueues an "llm" job only if the content is
// new. Grounded on the teacher's cmd/seed/main.go — a one-shot command
// living alongside the long-running worker process, upgraded from stdlib
// flag to cobra for consistency with cmd/pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/config"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/contentstore"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/pipeline"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		scraperID  string
		sourceURL  string
		priority   int
		inputPath  string
		configPath string
	)

	root := &cobra.Command{
		Use:   "submit",
		Short: "Submit one scraped payload into the pipeline's content store",
		Long: `submit reads a scraped payload (from --input or stdin), stores it in the
content-addressable store, and enqueues an "llm" job unless the exact
same bytes were already submitted by a prior run (spec §4.A dedup).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), submitArgs{
				ScraperID:  scraperID,
				SourceURL:  sourceURL,
				Priority:   priority,
				InputPath:  inputPath,
				ConfigPath: configPath,
			})
		},
	}

	root.Flags().StringVar(&scraperID, "scraper-id", "", "Identifier of the submitting scraper (required)")
	root.Flags().StringVar(&sourceURL, "source-url", "", "Source URL the payload was scraped from")
	root.Flags().IntVar(&priority, "priority", 5, "Queue priority, 0-9 (higher dequeues first)")
	root.Flags().StringVar(&inputPath, "input", "", "Path to the scraped payload file (default: stdin)")
	root.Flags().StringVar(&configPath, "config", envOrDefault("PPR_CONFIG", ""), "Path to pipeline config file")
	_ = root.MarkFlagRequired("scraper-id")

	return root
}

type submitArgs struct {
	ScraperID  string
	SourceURL  string
	Priority   int
	InputPath  string
	ConfigPath string
}

func run(ctx context.Context, args submitArgs) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	payload, err := readInput(args.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := contentstore.New(rdb, cfg.ArchiveRoot+"/blobs", log)
	result, err := store.Store(ctx, payload, args.ScraperID)
	if err != nil {
		return fmt.Errorf("failed to store payload: %w", err)
	}

	if !result.IsNew {
		fmt.Printf("content %s already submitted (job %s); skipping enqueue\n", result.Hash, result.ExistingJobID)
		return nil
	}

	bus := queue.New(rdb, queue.Config{MaxAttempts: cfg.QueueMaxAttempts, ResultTTL: cfg.ResultTTL})
	llmPayload, err := json.Marshal(pipeline.LLMJobPayload{ContentHash: result.Hash})
	if err != nil {
		return fmt.Errorf("failed to marshal llm payload: %w", err)
	}

	jobID, err := bus.Enqueue(ctx, "llm", queue.Job{
		Type:    queue.JobTypeLLM,
		Payload: llmPayload,
		Metadata: queue.Metadata{
			ScraperID: args.ScraperID,
			SourceURL: args.SourceURL,
			Priority:  args.Priority,
		},
	}, args.Priority)
	if err != nil {
		return fmt.Errorf("failed to enqueue llm job: %w", err)
	}

	fmt.Printf("stored content %s, enqueued llm job %s\n", result.Hash, jobID)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

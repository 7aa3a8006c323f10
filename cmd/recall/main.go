// Command recall runs the temporal memory engine: an HTTP API with
// scheduled ingestion, plus one-shot subcommands for adding, indexing and
// querying observations from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/lifelog-ai/recall/pkg/api"
	"github.com/lifelog-ai/recall/pkg/config"
	"github.com/lifelog-ai/recall/pkg/embedding"
	"github.com/lifelog-ai/recall/pkg/ingest"
	"github.com/lifelog-ai/recall/pkg/observability/logging"
	"github.com/lifelog-ai/recall/pkg/query"
	"github.com/lifelog-ai/recall/pkg/record"
	"github.com/lifelog-ai/recall/pkg/retrieval"
	"github.com/lifelog-ai/recall/pkg/vectorindex"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "recall",
		Short:         "Temporal semantic retrieval over a personal memory journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(serveCmd(), ingestCmd(), queryCmd(), chatCmd(), addCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env (when present), then the config file, then the
// environment overrides baked into config.Load.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warnf("could not load .env: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

// engine bundles the wired components plus their cleanup.
type engine struct {
	records      record.Store
	index        vectorindex.Index
	orchestrator *retrieval.Orchestrator
	pipeline     *ingest.Pipeline
}

func (e *engine) close() {
	if err := e.index.Close(); err != nil {
		logging.Warnf("failed to close index: %v", err)
	}
	if err := e.records.Close(); err != nil {
		logging.Warnf("failed to close record store: %v", err)
	}
}

func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	records, err := record.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	index, err := buildIndex(ctx, cfg)
	if err != nil {
		records.Close()
		return nil, err
	}

	embedder := embedding.NewClient(embedding.Config{
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout(),
	}, cfg.Retry.Policy())

	orchestrator, err := retrieval.NewOrchestrator(retrieval.Options{
		Embedder:       embedder,
		Index:          index,
		Parser:         query.NewParser(),
		MaxConcurrency: cfg.Retrieval.MaxConcurrency,
		FanoutTimeout:  cfg.Retrieval.FanoutTimeout(),
		ChatThreshold:  cfg.Retrieval.ChatThreshold,
	})
	if err != nil {
		index.Close()
		records.Close()
		return nil, err
	}

	return &engine{
		records:      records,
		index:        index,
		orchestrator: orchestrator,
		pipeline:     ingest.NewPipeline(records, embedder, index),
	}, nil
}

func buildIndex(ctx context.Context, cfg *config.Config) (vectorindex.Index, error) {
	switch cfg.Index.Backend {
	case config.IndexBackendMemory:
		logging.Warnf("using the in-memory vector index, embeddings are lost on exit")
		return vectorindex.NewMemory(), nil
	case config.IndexBackendMilvus:
		milvusClient, err := vectorindex.Dial(ctx, cfg.Index.Milvus.Address)
		if err != nil {
			return nil, err
		}
		index, err := vectorindex.NewMilvus(vectorindex.MilvusOptions{
			Client:     milvusClient,
			Collection: cfg.Index.Milvus.Collection,
			Dimension:  cfg.Embedding.Dimension,
			Policy:     cfg.Retry.Policy(),
		})
		if err != nil {
			milvusClient.Close()
			return nil, err
		}
		if err := index.EnsureCollection(ctx); err != nil {
			index.Close()
			return nil, err
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			scheduler := cron.New()
			if cfg.Ingest.Schedule != "" {
				_, err := scheduler.AddFunc(cfg.Ingest.Schedule, func() {
					if _, err := eng.pipeline.Run(context.Background()); err != nil {
						logging.Errorf("scheduled ingestion failed: %v", err)
					}
				})
				if err != nil {
					return fmt.Errorf("invalid ingest schedule %q: %w", cfg.Ingest.Schedule, err)
				}
				scheduler.Start()
				defer scheduler.Stop()
				logging.Infof("ingestion scheduled: %s", cfg.Ingest.Schedule)
			}

			server := &http.Server{
				Addr:              cfg.Server.Listen,
				Handler:           api.NewServer(eng.orchestrator, eng.records, eng.pipeline).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Infof("listening on %s", cfg.Server.Listen)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logging.Infof("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Index all pending observations once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			report, err := eng.pipeline.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: "Answer a time-anchored question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			answer, err := eng.orchestrator.Search(cmd.Context(), strings.Join(args, " "), time.Now())
			if err != nil {
				if errors.Is(err, query.ErrInvalidDate) {
					return fmt.Errorf("%w: include 'today', 'yesterday' or a DD/MM/YYYY date", err)
				}
				if errors.Is(err, query.ErrInvalidTime) {
					return fmt.Errorf("%w: include a period (morning, afternoon, evening, night) or a clock time like 3:30 PM", err)
				}
				return err
			}
			return printJSON(cmd, answer)
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <text>",
		Short: "Search the whole journal without a time anchor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			answer, err := eng.orchestrator.Chat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, answer)
		},
	}
}

func addCmd() *cobra.Command {
	var (
		date     string
		clock    string
		location string
	)
	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Record a new observation (indexed on the next ingestion pass)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			records, err := record.OpenSQLite(cmd.Context(), cfg.Store.Path)
			if err != nil {
				return err
			}
			defer records.Close()

			now := time.Now()
			if date == "" {
				date = now.Format(query.DateLayout)
			}
			if clock == "" {
				clock = now.Format("15:04:05")
			}

			rec := &record.MemoryRecord{
				Date:    date,
				Time:    clock,
				Content: strings.Join(args, " "),
			}
			if location != "" {
				rec.Location = &record.Location{Name: location}
			}
			if err := records.Add(cmd.Context(), rec); err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "observation date (DD/MM/YYYY, default today)")
	cmd.Flags().StringVar(&clock, "time", "", "observation time (HH:MM:SS, default now)")
	cmd.Flags().StringVar(&location, "location", "", "location name")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

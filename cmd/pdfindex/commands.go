package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfindex/internal/app"
	"github.com/markdave123-py/pdfindex/internal/config"
	"github.com/markdave123-py/pdfindex/internal/logger"
	"github.com/markdave123-py/pdfindex/internal/models"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pdfindex",
		Short:         "Turn PDF documents into published vector indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	root.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	root.AddCommand(
		serveCmd(),
		ingestCmd(),
		statusCmd(),
		inspectCmd(),
		searchCmd(),
	)
	return root
}

// setup loads configuration, applies the logging flags and wires the app.
func setup(cmd *cobra.Command) (context.Context, *app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.LogLevel)
	logCfg.JSON = cfg.LogJSON
	logger.Init(logCfg)

	ctx := logger.ContextWithLogger(cmd.Context(), logger.GetDefault())
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("startup failed: %w", err)
	}
	return ctx, a, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and ingestion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Ingest one document and publish its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, res, err := a.Ingestor.Submit(ctx, ingestRequest(cmd, args[0], data))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Artifact)
		},
	}
	cmd.Flags().Int("chunk-size", 0, "Chunk size in characters (default from CHUNK_SIZE)")
	cmd.Flags().Int("overlap", 0, "Chunk overlap in characters (default from CHUNK_OVERLAP)")
	return cmd
}

// ingestRequest builds the request for file; chunk flags are only set when
// given on the command line.
func ingestRequest(cmd *cobra.Command, file string, data []byte) models.IngestionRequest {
	req := models.IngestionRequest{
		FileName: filepath.Base(file),
		Data:     data,
	}
	if cmd.Flags().Changed("chunk-size") {
		n, _ := cmd.Flags().GetInt("chunk-size")
		req.ChunkSize = &n
	}
	if cmd.Flags().Changed("overlap") {
		n, _ := cmd.Flags().GetInt("overlap")
		req.Overlap = &n
	}
	return req
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <key>",
		Short: "Report whether a published artifact is available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.Publisher.Available(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"key": args[0], "available": ok})
		},
	}
}

func inspectCmd() *cobra.Command {
	var withText bool
	cmd := &cobra.Command{
		Use:   "inspect <key>",
		Short: "Download a published artifact and print its manifest and fragments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ix, manifest, err := a.Publisher.Fetch(ctx, args[0])
			if err != nil {
				return err
			}
			fragments := ix.Fragments
			if !withText {
				fragments = make([]models.Fragment, len(ix.Fragments))
				for i, f := range ix.Fragments {
					f.Text = ""
					fragments[i] = f
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"manifest":  manifest,
				"fragments": fragments,
			})
		},
	}
	cmd.Flags().BoolVar(&withText, "text", false, "Include fragment text")
	return cmd
}

func searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <key> <query>",
		Short: "Find the fragments of a published artifact nearest to a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ix, _, err := a.Publisher.Fetch(ctx, args[0])
			if err != nil {
				return err
			}
			model, err := a.Embedder.Acquire(ctx)
			if err != nil {
				return err
			}
			if ix.Len() > 0 && model.Name() != ix.Model {
				return fmt.Errorf("artifact %s was embedded with %s, configured model is %s", args[0], ix.Model, model.Name())
			}
			vectors, err := a.Embedder.EmbedAll(ctx, []models.Fragment{{Text: args[1]}})
			if err != nil {
				return err
			}
			hits, err := ix.Search(vectors[0].Values, k)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), hits)
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 4, "Number of fragments to return")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

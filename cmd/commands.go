package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/meghashyamc/jurisearch/api"
	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/db/kvdb"
	"github.com/meghashyamc/jurisearch/db/searchdb"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/documents"
	"github.com/meghashyamc/jurisearch/services/extraction/setup"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "jurisearch",
	Short:         "Store court decisions and search their text",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return api.Run(cmd.Context(), cfg)
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Extract the text of a PDF and print it",
	Long: `Extract the text of a PDF with the same pipeline used for uploads and
print it to stdout.

Examples:
  jurisearch extract ./jugement.pdf
  jurisearch extract --json ./ordonnance.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		pdf, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		pipeline := setup.NewPipeline(logger.New(cfg.GetLogLevel()), cfg)
		result, err := pipeline.Extract(cmd.Context(), pdf)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "source: %s\n", result.Source)
		if len(result.PageErrors) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "unreadable pages: %v\n", result.PageErrors)
		}
		fmt.Fprintln(out, result.Text)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the metadata index from the document store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := logger.New(cfg.GetLogLevel())

		kv, err := kvdb.New(log, cfg)
		if err != nil {
			return err
		}
		defer kv.Close()

		index, err := searchdb.New(log, cfg)
		if err != nil {
			return err
		}
		defer index.Close()

		// Extraction is never triggered by a reindex.
		service := documents.New(cmd.Context(), log, kv, nil, index, documents.Options{})
		count, err := service.Reindex()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", count)
		return nil
	},
}

func init() {
	extractCmd.Flags().Bool("json", false, "print the full result as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(reindexCmd)
}

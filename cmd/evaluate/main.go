package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/app"
	"github.com/pageqa/backend/internal/evaluation"
	"github.com/pageqa/backend/pkg/config"
	appLogger "github.com/pageqa/backend/pkg/logger"
)

var (
	sourceURL   string
	datasetPath string
	saveResults bool
	outputJSON  bool
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score pipeline answers against a question dataset",
	Long: `Indexes a page, asks every question in a JSON dataset and compares each
answer with the expected answer by embedding cosine similarity.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runEvaluate,
}

func init() {
	rootCmd.Flags().StringVarP(&sourceURL, "url", "u", "", "page to index (defaults to source.url from config)")
	rootCmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "JSON dataset of {question, expected} items")
	rootCmd.Flags().BoolVar(&saveResults, "save", false, "store per-item results in the history database")
	rootCmd.Flags().BoolVar(&outputJSON, "json", false, "print the report as JSON")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	_ = rootCmd.MarkFlagRequired("dataset")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if sourceURL != "" {
		cfg.Source.URL = sourceURL
	}
	cfg.History.Enabled = saveResults && cfg.History.Path != ""

	if err := appLogger.Init(logLevel, "console", "stderr"); err != nil {
		return err
	}
	defer appLogger.Sync()

	f, err := os.Open(datasetPath)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	dataset, err := evaluation.LoadDataset(f)
	f.Close()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	color.Cyan("Indexing %s", cfg.Source.URL)
	if err := application.Pipeline.Initialize(ctx, cfg.Source.URL); err != nil {
		return fmt.Errorf("failed to index source page: %w", err)
	}

	var store evaluation.ResultStore
	if application.History != nil {
		store = application.History
	}

	evaluator := evaluation.NewEvaluator(application.Pipeline, application.Pipeline.Embedder(), store)
	report, err := evaluator.RunDatasetEvaluation(ctx, dataset)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			appLogger.Warn("Evaluation interrupted")
		}
		return err
	}

	if outputJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	printItems(report)
	cmd.Print(evaluation.GenerateReport(report))
	if store != nil {
		appLogger.Info("Evaluation results saved", zap.String("run_id", report.RunID))
	}
	return nil
}

func printItems(report *evaluation.Report) {
	for i, item := range report.Items {
		c := color.New(color.FgGreen)
		switch item.Classification {
		case evaluation.ClassModerate:
			c = color.New(color.FgYellow)
		case evaluation.ClassIrrelevant, evaluation.ClassError:
			c = color.New(color.FgRed)
		}

		c.Printf("[%d] %-14s %.3f  ", i+1, item.Classification, item.Similarity)
		fmt.Println(item.Question)
		if item.Error != "" {
			color.Red("    %s", item.Error)
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gidra39/trainlog/analysis"
	"github.com/gidra39/trainlog/config"
	"github.com/gidra39/trainlog/locator"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	logDir := flag.String("log-dir", "", "Directory holding training_*.log files (default from config)")
	outputDir := flag.String("output-dir", "", "Directory for the report and plots (default from config)")
	logFile := flag.String("log-file", "", "Analyze this log file instead of the newest one in --log-dir")
	noReport := flag.Bool("no-report", false, "Skip the text report")
	noPlots := flag.Bool("no-plots", false, "Skip the plot image")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	configuration := config.LoadConfig(".env", "trainlog.json", "trainlog.yaml")

	opts := analysis.Options{
		LogDir:     firstNonEmpty(*logDir, configuration.LogDir),
		OutputDir:  firstNonEmpty(*outputDir, configuration.OutputDir),
		LogFile:    *logFile,
		SkipReport: *noReport,
		SkipPlots:  *noPlots,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, configuration, opts))
}

func run(ctx context.Context, configuration config.Config, opts analysis.Options) int {
	res, err := analysis.New(configuration, nil).Run(ctx, opts)
	switch {
	case errors.Is(err, locator.ErrNotFound):
		fmt.Printf("Error: %v\n", err)
		return 1
	case err != nil:
		log.Debug().Err(err).Msg("analysis aborted")
		fmt.Printf("Unexpected error: %v\n", err)
		return 1
	}

	if res.ReportErr != nil {
		fmt.Printf("Error: %v\n", res.ReportErr)
	}
	if res.PlotErr != nil {
		fmt.Printf("Error: %v\n", res.PlotErr)
	}

	fmt.Printf("\nAnalysis completed! Results saved to: %s\n", opts.OutputDir)
	fmt.Printf("Training status: %s\n", res.Summary.Status)
	if l := res.Summary.Loss; l != nil {
		fmt.Printf("Training progress: %d steps, Latest loss: %.4f\n", res.Summary.TotalSteps, l.Final)
	}
	if len(res.Record.EvalLosses) > 0 && !opts.SkipPlots {
		fmt.Println("Note: eval loss points in the plots are spread evenly over the step range; their steps are approximate.")
	}

	if res.Failed() {
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

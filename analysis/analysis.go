// Package analysis runs the whole log analysis: locate the newest training
// log, parse it once, then produce the report and the plots as independent
// tasks over the same record. Optional MLflow export and notification run
// afterwards.
package analysis

import (
	"context"

	"github.com/gidra39/trainlog/config"
	"github.com/gidra39/trainlog/locator"
	"github.com/gidra39/trainlog/messaging"
	"github.com/gidra39/trainlog/mlflow"
	"github.com/gidra39/trainlog/parser"
	"github.com/gidra39/trainlog/plots"
	"github.com/gidra39/trainlog/report"
	"github.com/gidra39/trainlog/types"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Exporter pushes a parsed record to an experiment tracker.
type Exporter interface {
	ExportRecord(ctx context.Context, runID string, record *types.TrainingRecord) (mlflow.ExportResult, error)
}

// ErrTaskPanic marks a report or plot task that panicked.
var ErrTaskPanic = errors.New("analysis task panicked")

type reportGenerator interface {
	Generate(record *types.TrainingRecord, outputDir string) (string, error)
}

type plotGenerator interface {
	Generate(record *types.TrainingRecord, outputDir string) (plots.Result, error)
}

// Notifier delivers a summary message.
type Notifier func(ctx context.Context, message string, cfg config.Config) error

type Options struct {
	LogDir    string
	OutputDir string
	// LogFile, when set, is parsed directly and LogDir is not searched.
	LogFile string

	SkipReport bool
	SkipPlots  bool
}

// Result collects the outcome of each task. Task errors are independent:
// a failed report does not prevent the plots and vice versa.
type Result struct {
	LogFile string
	Record  *types.TrainingRecord
	Summary types.Summary

	ReportPath string
	ReportErr  error

	Plots   plots.Result
	PlotErr error

	Export    *mlflow.ExportResult
	ExportErr error

	NotifyErr error
}

// Failed reports whether the report or the plots could not be written.
func (r *Result) Failed() bool {
	return r.ReportErr != nil || r.PlotErr != nil
}

type Analyzer struct {
	cfg      config.Config
	parser   *parser.Parser
	reports  reportGenerator
	plots    plotGenerator
	exporter Exporter
	notify   Notifier
}

// New wires an Analyzer from configuration. The clock drives event
// timestamps that are missing from the log and the report's generation time.
func New(cfg config.Config, c clock.PassiveClock) *Analyzer {
	if c == nil {
		c = clock.RealClock{}
	}
	a := &Analyzer{
		cfg:     cfg,
		parser:  parser.New(c),
		reports: report.NewGenerator(cfg.ReportTitle, c),
		plots: plots.NewGenerator(plots.Options{
			WidthInches:  cfg.PlotWidthInches,
			HeightInches: cfg.PlotHeightInches,
			DPI:          cfg.PlotDPI,
		}),
	}
	if cfg.MLflowEnabled() {
		a.exporter = mlflow.NewClient(cfg, c)
	}
	if cfg.NotificationsEnabled() {
		a.notify = messaging.SendNotification
	}
	return a
}

func (a *Analyzer) WithExporter(e Exporter) *Analyzer {
	a.exporter = e
	return a
}

func (a *Analyzer) WithNotifier(n Notifier) *Analyzer {
	a.notify = n
	return a
}

// Run returns an error only when no record could be produced: the log was
// not found (locator.ErrNotFound) or not readable (parser.ErrUnreadable).
// Everything after parsing is reported through Result.
func (a *Analyzer) Run(ctx context.Context, opts Options) (*Result, error) {
	logFile := opts.LogFile
	if logFile == "" {
		found, err := locator.Locate(opts.LogDir, a.cfg.LogFilePattern)
		if err != nil {
			return nil, err
		}
		logFile = found
	}
	log.Info().Str("file", logFile).Msg("analyzing log file")

	record, err := a.parser.ParseFile(logFile)
	if err != nil {
		return nil, err
	}

	res := &Result{
		LogFile: logFile,
		Record:  record,
		Summary: types.Summarize(record),
	}

	// Both generators only read record and write distinct files.
	var g errgroup.Group
	if !opts.SkipReport {
		g.Go(func() error {
			res.ReportErr = guard("report", func() (err error) {
				res.ReportPath, err = a.reports.Generate(record, opts.OutputDir)
				return err
			})
			return res.ReportErr
		})
	}
	if !opts.SkipPlots {
		g.Go(func() error {
			res.PlotErr = guard("plots", func() (err error) {
				res.Plots, err = a.plots.Generate(record, opts.OutputDir)
				return err
			})
			return res.PlotErr
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(res.ReportErr).AnErr("plot_error", res.PlotErr).Msg("analysis outputs incomplete")
	}

	if a.exporter != nil {
		exported, err := a.exporter.ExportRecord(ctx, a.cfg.MLflowRunID, record)
		if err != nil {
			res.ExportErr = errors.Wrap(err, "mlflow export")
			log.Warn().Err(res.ExportErr).Msg("failed to export metrics")
		} else {
			res.Export = &exported
		}
	}

	if a.notify != nil {
		msg := messaging.FormatSummary(logFile, res.Summary, res.ReportPath, res.Plots.Path)
		if err := a.notify(ctx, msg, a.cfg); err != nil {
			res.NotifyErr = errors.Wrap(err, "notification")
			log.Warn().Err(res.NotifyErr).Msg("failed to send notification")
		}
	}

	return res, nil
}

// guard runs task and turns a panic into ErrTaskPanic, since errgroup
// goroutines would otherwise take the process down.
func guard(name string, task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrTaskPanic, "%s: %v", name, r)
		}
	}()
	return task()
}

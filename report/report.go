package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gidra39/trainlog/output"
	"github.com/gidra39/trainlog/types"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

const (
	// FileName is relied on by downstream tooling.
	FileName = "training_report.txt"

	DefaultTitle = "Bespoke-Stratos-17k Training Analysis Report"

	timestampLayout = "2006-01-02 15:04:05"
)

var ErrWrite = errors.New("unable to write training report")

var (
	banner = strings.Repeat("=", 60)
	rule   = strings.Repeat("-", 30)
)

type Generator struct {
	title string
	clock clock.PassiveClock
}

// NewGenerator returns a report generator. The clock supplies the
// "Generated at" line; nil means wall-clock time.
func NewGenerator(title string, c clock.PassiveClock) *Generator {
	if title == "" {
		title = DefaultTitle
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Generator{title: title, clock: c}
}

// Generate writes the report for record into outputDir, creating it if
// needed, and returns the report path.
func (g *Generator) Generate(record *types.TrainingRecord, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.Wrapf(ErrWrite, "create output directory %s: %v", outputDir, err)
	}

	path := filepath.Join(outputDir, FileName)
	if err := output.WriteFile(path, func(w io.Writer) error {
		return g.Render(w, record)
	}); err != nil {
		return "", errors.Wrapf(ErrWrite, "%s: %v", path, err)
	}

	log.Info().Str("file", path).Msg("training report saved")
	return path, nil
}

// Render writes the report text to w. Output depends only on record and
// the clock.
func (g *Generator) Render(w io.Writer, record *types.TrainingRecord) error {
	s := types.Summarize(record)
	p := &printer{w: w}

	p.line(banner)
	p.line(g.title)
	p.line(banner)
	p.linef("Generated at: %s", g.clock.Now().Format(timestampLayout))
	p.line("")

	if record.SystemInfo.Len() > 0 {
		p.section("System Information:")
		record.SystemInfo.Each(func(key, value string) {
			p.linef("%s: %s", key, value)
		})
		p.line("")
	}

	p.linef("Training Status: %s", s.Status)
	p.linef("Total Training Steps: %d", s.TotalSteps)
	p.linef("Total Epochs: %.2f", s.TotalEpochs)
	p.line("")

	if l := s.Loss; l != nil {
		p.section("Training Loss Statistics:")
		p.linef("Initial Loss: %.4f", l.Initial)
		p.linef("Final Loss: %.4f", l.Final)
		p.linef("Best Loss: %.4f", l.Best)
		p.linef("Loss Reduction: %.4f", l.Reduction)
		if l.ReductionDefined {
			p.linef("Loss Reduction %%: %.2f%%", l.ReductionPct)
		} else {
			p.line("Loss Reduction %: N/A (initial loss is zero)")
		}
		p.line("")
	}

	if e := s.Eval; e != nil {
		p.section("Evaluation Loss Statistics:")
		p.linef("Best Eval Loss: %.4f", e.Best)
		p.linef("Latest Eval Loss: %.4f", e.Latest)
		p.line("")
	}

	if lr := s.LR; lr != nil {
		p.section("Learning Rate Statistics:")
		p.linef("Initial LR: %.2e", lr.Initial)
		p.linef("Final LR: %.2e", lr.Final)
		p.linef("Max LR: %.2e", lr.Max)
		p.linef("Min LR: %.2e", lr.Min)
	}

	return p.err
}

// printer remembers the first write error so Render can stay linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s+"\n")
}

func (p *printer) linef(format string, args ...interface{}) {
	p.line(fmt.Sprintf(format, args...))
}

func (p *printer) section(title string) {
	p.line(title)
	p.line(rule)
}

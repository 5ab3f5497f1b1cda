package plots

import (
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/gidra39/trainlog/output"
	"github.com/gidra39/trainlog/types"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// FileName is relied on by downstream tooling.
const FileName = "training_plots.png"

var (
	ErrWrite = errors.New("unable to write training plots")
	// ErrPanel marks a single panel that could not be drawn. The rest of the
	// image is still produced.
	ErrPanel = errors.New("panel rendering failed")
)

var (
	blue   = color.RGBA{R: 0x1f, G: 0x4e, B: 0xd8, A: 0xff}
	red    = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	green  = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	purple = color.RGBA{R: 0x80, G: 0x00, B: 0x80, A: 0xff}
	faint  = color.Gray{Y: 0xdd}
)

type Options struct {
	WidthInches  float64
	HeightInches float64
	DPI          int
}

func DefaultOptions() Options {
	return Options{WidthInches: 12, HeightInches: 8, DPI: 300}
}

// Result describes one generated image.
type Result struct {
	Path string
	// Panels lists the titles of panels that were drawn.
	Panels []string
	// PanelErrors holds one ErrPanel-wrapped error per panel that failed.
	PanelErrors []error
}

type Generator struct {
	opts Options
}

func NewGenerator(opts Options) *Generator {
	def := DefaultOptions()
	if opts.WidthInches <= 0 {
		opts.WidthInches = def.WidthInches
	}
	if opts.HeightInches <= 0 {
		opts.HeightInches = def.HeightInches
	}
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	return &Generator{opts: opts}
}

// panel builds one chart. Returning (nil, nil) means the panel has no data
// and its tile stays blank.
type panel struct {
	title string
	row   int
	col   int
	build func(r *types.TrainingRecord) (*plot.Plot, error)
}

var panels = []panel{
	{title: "Training Loss Over Time", row: 0, col: 0, build: lossPanel},
	{title: "Learning Rate Schedule", row: 0, col: 1, build: learningRatePanel},
	{title: "Training vs Evaluation Loss", row: 1, col: 0, build: trainVsEvalPanel},
	{title: "Training Epoch Progress", row: 1, col: 1, build: epochPanel},
}

// Generate draws the 2x2 panel image for record into outputDir. A record
// without metric events is not an error: nothing is written and the
// returned Result has an empty Path.
func (g *Generator) Generate(record *types.TrainingRecord, outputDir string) (Result, error) {
	if len(record.Steps) == 0 {
		log.Info().Msg("no training data found for visualization")
		return Result{}, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, errors.Wrapf(ErrWrite, "create output directory %s: %v", outputDir, err)
	}

	img := vgimg.NewWith(
		vgimg.UseWH(vg.Length(g.opts.WidthInches)*vg.Inch, vg.Length(g.opts.HeightInches)*vg.Inch),
		vgimg.UseDPI(g.opts.DPI),
		vgimg.UseBackgroundColor(color.White),
	)
	canvas := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      2,
		PadX:      vg.Centimeter,
		PadY:      vg.Centimeter,
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(4),
	}

	res := Result{Path: filepath.Join(outputDir, FileName)}
	for _, pn := range panels {
		drawn, err := renderPanel(pn, record, tiles.At(canvas, pn.col, pn.row))
		if err != nil {
			log.Warn().Err(err).Str("panel", pn.title).Msg("skipping panel")
			res.PanelErrors = append(res.PanelErrors, err)
			continue
		}
		if drawn {
			res.Panels = append(res.Panels, pn.title)
		}
	}

	if err := output.WriteFile(res.Path, func(w io.Writer) error {
		png := vgimg.PngCanvas{Canvas: img}
		_, err := png.WriteTo(w)
		return err
	}); err != nil {
		return Result{}, errors.Wrapf(ErrWrite, "%s: %v", res.Path, err)
	}

	log.Info().Str("file", res.Path).Strs("panels", res.Panels).Msg("training plots saved")
	return res, nil
}

// renderPanel builds and draws one panel, converting both errors and panics
// into ErrPanel so the other panels are unaffected.
func renderPanel(pn panel, record *types.TrainingRecord, c draw.Canvas) (drawn bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			drawn = false
			err = errors.Wrapf(ErrPanel, "%s: %v", pn.title, r)
		}
	}()

	p, err := pn.build(record)
	if err != nil {
		return false, errors.Wrapf(ErrPanel, "%s: %v", pn.title, err)
	}
	if p == nil {
		return false, nil
	}
	p.Title.Text = pn.title
	p.Draw(c)
	return true, nil
}

func newPlot(xLabel, yLabel string) *plot.Plot {
	p := plot.New()
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true

	grid := plotter.NewGrid()
	grid.Vertical.Color = faint
	grid.Horizontal.Color = faint
	p.Add(grid)
	return p
}

func addLine(p *plot.Plot, name string, c color.Color, xs []float64, ys []float64) error {
	if len(xs) != len(ys) {
		return errors.Errorf("%s: %d x values for %d y values", name, len(xs), len(ys))
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, name)
	}
	line.LineStyle.Color = c
	line.LineStyle.Width = vg.Points(2)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

func stepsAsFloats(steps []int) []float64 {
	xs := make([]float64, len(steps))
	for i, s := range steps {
		xs[i] = float64(s)
	}
	return xs
}

func lossPanel(r *types.TrainingRecord) (*plot.Plot, error) {
	p := newPlot("Steps", "Loss")
	if err := addLine(p, "Training Loss", blue, stepsAsFloats(r.Steps), r.TrainLosses); err != nil {
		return nil, err
	}
	return p, nil
}

// learningRatePanel uses a log axis, so non-positive rates (warmup from
// zero, missing values) are dropped from the line.
func learningRatePanel(r *types.TrainingRecord) (*plot.Plot, error) {
	if len(r.LearningRates) == 0 {
		return nil, nil
	}

	var xs, ys []float64
	for i, lr := range r.LearningRates {
		if lr > 0 {
			xs = append(xs, float64(r.Steps[i]))
			ys = append(ys, lr)
		}
	}
	if len(ys) == 0 {
		return nil, errors.New("no positive learning rates to draw on a log scale")
	}

	p := newPlot("Steps", "Learning Rate")
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	if err := addLine(p, "Learning Rate", red, xs, ys); err != nil {
		return nil, err
	}
	// A flat schedule would give the log axis an empty range.
	if lo, hi := floats.Min(ys), floats.Max(ys); lo == hi {
		p.Y.Min, p.Y.Max = lo/2, hi*2
	}
	return p, nil
}

func trainVsEvalPanel(r *types.TrainingRecord) (*plot.Plot, error) {
	if len(r.EvalLosses) == 0 {
		return nil, nil
	}

	log.Debug().Int("eval_losses", len(r.EvalLosses)).
		Msg("eval loss steps are spread evenly over the step range, not read from the log")

	p := newPlot("Steps", "Loss")
	if err := addLine(p, "Train Loss", blue, stepsAsFloats(r.Steps), r.TrainLosses); err != nil {
		return nil, err
	}
	if err := addLine(p, "Eval Loss (approx. steps)", green, EvalSteps(r.Steps, len(r.EvalLosses)), r.EvalLosses); err != nil {
		return nil, err
	}
	return p, nil
}

func epochPanel(r *types.TrainingRecord) (*plot.Plot, error) {
	if len(r.Epochs) == 0 {
		return nil, nil
	}
	p := newPlot("Steps", "Epoch")
	if err := addLine(p, "Epoch Progress", purple, stepsAsFloats(r.Steps), r.Epochs); err != nil {
		return nil, err
	}
	return p, nil
}

// EvalSteps places n evaluation points evenly on [0, max(steps)].
//
// The log does not say at which step an evaluation ran, so this is a visual
// approximation only and the chart labels it as such.
func EvalSteps(steps []int, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{0}
	}
	hi := 0.0
	if len(steps) > 0 {
		hi = floats.Max(stepsAsFloats(steps))
	}
	return floats.Span(make([]float64, n), 0, hi)
}

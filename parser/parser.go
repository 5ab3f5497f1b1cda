package parser

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gidra39/trainlog/types"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// ErrUnreadable is returned when the log file cannot be read as UTF-8 text.
var ErrUnreadable = errors.New("training log unreadable")

// Parser turns the text of a training log into a TrainingRecord.
type Parser struct {
	clock clock.PassiveClock
}

// New returns a Parser that stamps events lacking a usable timestamp with
// c.Now(). A nil clock means wall-clock time.
func New(c clock.PassiveClock) *Parser {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Parser{clock: c}
}

// ParseFile reads path and parses it.
func (p *Parser) ParseFile(path string) (*types.TrainingRecord, error) {
	log.Info().Str("file", path).Msg("parsing log file")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	if !utf8.Valid(data) {
		return nil, errors.Wrapf(ErrUnreadable, "%s: not valid UTF-8", path)
	}

	return p.Parse(string(data)), nil
}

// Parse never fails: sections that do not match simply stay empty.
func (p *Parser) Parse(content string) *types.TrainingRecord {
	text := normalize(content)

	record := &types.TrainingRecord{
		Status: detectStatus(text),
	}
	extractSystemInfo(text, &record.SystemInfo)
	p.extractMetrics(text, record)
	record.EvalLosses = extractEvalLosses(text)

	log.Debug().
		Str("status", string(record.Status)).
		Int("events", record.Len()).
		Int("eval_losses", len(record.EvalLosses)).
		Int("system_info", record.SystemInfo.Len()).
		Msg("parsed training log")

	return record
}

func normalize(content string) string {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = ansiEscape.ReplaceAllString(content, "")
	return bareAnsi.ReplaceAllString(content, "")
}

func extractSystemInfo(text string, info *types.Facts) {
	for _, p := range systemInfoPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		info.Set(p.key, strings.TrimSpace(m[1]))
	}
}

func detectStatus(text string) types.TrainingStatus {
	for _, s := range statusPriority {
		for _, marker := range s.markers {
			if strings.Contains(text, marker) {
				return s.status
			}
		}
	}
	return types.StatusUnknown
}

// metricFragment is the shape of one metric line. Timestamp stays raw so a
// non-string value falls back to the clock instead of rejecting the event.
type metricFragment struct {
	Step         *float64        `json:"step"`
	TrainLoss    *float64        `json:"train_loss"`
	LearningRate *float64        `json:"learning_rate"`
	Epoch        *float64        `json:"epoch"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// extractMetrics reads one JSON object per line first. Only when that finds
// nothing does it fall back to scanning the whole text for brace-delimited
// objects, which also catches objects split across lines.
func (p *Parser) extractMetrics(text string, record *types.TrainingRecord) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, `"train_loss"`) {
			continue
		}
		for _, candidate := range lineCandidates(line) {
			p.addFragment(candidate, record)
		}
	}
	if record.Len() > 0 {
		return
	}

	for _, candidate := range metricObject.FindAllString(text, -1) {
		p.addFragment(candidate, record)
	}
	if record.Len() > 0 {
		log.Debug().Int("events", record.Len()).Msg("metric events recovered by brace scan")
	}
}

// lineCandidates returns the outermost {...} span of line when it decodes as
// a JSON object holding train_loss at the top level, or the flat
// brace-delimited objects inside it otherwise. The latter covers lines with
// several objects and metrics nested one level down.
func lineCandidates(line string) []string {
	start := strings.IndexByte(line, '{')
	end := strings.LastIndexByte(line, '}')
	if start < 0 || end < start {
		return nil
	}
	whole := line[start : end+1]
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(whole), &top); err == nil {
		if _, ok := top["train_loss"]; ok {
			return []string{whole}
		}
	}
	return metricObject.FindAllString(line, -1)
}

func (p *Parser) addFragment(candidate string, record *types.TrainingRecord) {
	var frag metricFragment
	if err := json.Unmarshal([]byte(candidate), &frag); err != nil {
		log.Debug().Err(err).Str("fragment", candidate).Msg("skipping malformed metric fragment")
		return
	}
	if frag.TrainLoss == nil {
		log.Debug().Str("fragment", candidate).Msg("skipping fragment without train_loss value")
		return
	}

	step, ok := stepValue(frag.Step)
	if !ok {
		log.Debug().Str("fragment", candidate).Msg("skipping fragment with non-integral step")
		return
	}

	record.AddEvent(types.MetricEvent{
		Step:         step,
		TrainLoss:    *frag.TrainLoss,
		LearningRate: valueOr(frag.LearningRate),
		Epoch:        valueOr(frag.Epoch),
		Timestamp:    p.timestamp(frag.Timestamp),
	})
}

// stepValue accepts a missing step as 0. Fractional or out-of-range steps
// are rejected rather than truncated.
func stepValue(v *float64) (int, bool) {
	f := valueOr(v)
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func extractEvalLosses(text string) []float64 {
	matches := evalLoss.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	losses := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			log.Debug().Err(err).Str("value", m[1]).Msg("skipping unparseable eval_loss")
			continue
		}
		losses = append(losses, v)
	}
	return losses
}

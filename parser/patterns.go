package parser

import (
	"regexp"

	"github.com/gidra39/trainlog/types"
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	// Colour codes whose ESC byte was lost on the way into the file, e.g. "[32m".
	bareAnsi = regexp.MustCompile(`\[[0-9]{1,3}(?:;[0-9]{1,3})*m`)

	// A JSON object with no nested braces that mentions train_loss. Can span
	// lines; cannot see objects that carry braces inside string values.
	metricObject = regexp.MustCompile(`\{[^{}]*"train_loss"[^{}]*\}`)

	evalLoss = regexp.MustCompile(`"eval_loss"\s*:\s*([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`)
)

type infoPattern struct {
	key string
	re  *regexp.Regexp
}

var systemInfoPatterns = []infoPattern{
	{key: types.InfoOS, re: regexp.MustCompile(`- Operating System: (.+)`)},
	{key: types.InfoPython, re: regexp.MustCompile(`- Python Version: (.+)`)},
	{key: types.InfoCUDADevices, re: regexp.MustCompile(`- CUDA Devices: (.+)`)},
}

type statusMarkers struct {
	status  types.TrainingStatus
	markers []string
}

// Checked in order; the first status with any marker present wins.
var statusPriority = []statusMarkers{
	{status: types.StatusCompleted, markers: []string{"Training completed successfully!", "✅ 训练成功完成"}},
	{status: types.StatusFailed, markers: []string{"Training failed", "❌ 训练失败"}},
	{status: types.StatusRunning, markers: []string{"Training started", "开始训练"}},
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gidra39/trainlog/validation"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrFileNotFound = errors.New("file not found")

// Config contains all application configuration settings
type Config struct {
	LogDir         string `json:"LOG_DIR" koanf:"LOG_DIR" validate:"required"`
	OutputDir      string `json:"OUTPUT_DIR" koanf:"OUTPUT_DIR" validate:"required"`
	LogFilePattern string `json:"LOG_FILE_PATTERN" koanf:"LOG_FILE_PATTERN" validate:"required"`
	ReportTitle    string `json:"REPORT_TITLE" koanf:"REPORT_TITLE" validate:"required"`

	PlotWidthInches  float64 `json:"PLOT_WIDTH_INCHES" koanf:"PLOT_WIDTH_INCHES" validate:"gt=0"`
	PlotHeightInches float64 `json:"PLOT_HEIGHT_INCHES" koanf:"PLOT_HEIGHT_INCHES" validate:"gt=0"`
	PlotDPI          int     `json:"PLOT_DPI" koanf:"PLOT_DPI" validate:"gt=0"`

	MLflowTrackingURI string `json:"MLFLOW_TRACKING_URI" koanf:"MLFLOW_TRACKING_URI" validate:"omitempty,url"`
	MLflowRunID       string `json:"MLFLOW_RUN_ID" koanf:"MLFLOW_RUN_ID"`

	MessageChannels  string `json:"MESSAGE_CHANNELS" koanf:"MESSAGE_CHANNELS" validate:"omitempty,oneof=TELEGRAM SLACK BOTH telegram slack both"`
	TelegramBotToken string `json:"TELEGRAM_BOT_TOKEN" koanf:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `json:"TELEGRAM_CHAT_ID" koanf:"TELEGRAM_CHAT_ID"`
	TelegramAPIURL   string `json:"TELEGRAM_API_URL" koanf:"TELEGRAM_API_URL" validate:"required,url"`
	SlackWebhookURL  string `json:"SLACK_WEBHOOK_URL" koanf:"SLACK_WEBHOOK_URL" validate:"omitempty,url"`

	HTTPTimeoutSeconds int `json:"HTTP_TIMEOUT_SECONDS" koanf:"HTTP_TIMEOUT_SECONDS" validate:"gt=0"`
}

// Defaults mirrors the layout the training scripts write to.
var Defaults = map[string]interface{}{
	"LOG_DIR":              "logs/qwen2.5-3b-bespoke-stratos/lora/sft",
	"OUTPUT_DIR":           "logs/analysis",
	"LOG_FILE_PATTERN":     "training_*.log",
	"REPORT_TITLE":         "Bespoke-Stratos-17k Training Analysis Report",
	"PLOT_WIDTH_INCHES":    12.0,
	"PLOT_HEIGHT_INCHES":   8.0,
	"PLOT_DPI":             300,
	"TELEGRAM_API_URL":     "https://api.telegram.org",
	"HTTP_TIMEOUT_SECONDS": 30,
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// MLflowEnabled reports whether parsed metrics should be pushed to MLflow.
func (c Config) MLflowEnabled() bool {
	return c.MLflowTrackingURI != "" && c.MLflowRunID != ""
}

func (c Config) NotificationsEnabled() bool {
	return c.MessageChannels != ""
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return json.Parser()
	}
}

// Load builds the configuration from defaults, an optional config file and
// the environment, in increasing order of priority.
func Load(configFile string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults, "."), nil); err != nil {
		return Config{}, errors.Wrap(err, "koanf: error loading defaults")
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), parserFor(configFile)); err != nil {
			log.Warn().Err(err).Str("file", configFile).Msg("unable to load config file")
		} else {
			log.Info().Str("file", configFile).Msg("loaded configuration from file")
		}
	}

	// Load from environment variables (higher priority)
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, errors.Wrap(err, "koanf: error loading env")
	}

	config := Config{}

	if err := k.Unmarshal("", &config); err != nil {
		return Config{}, errors.Wrap(err, "koanf: error unmarshalling config")
	}

	if err := validation.Validate.Struct(config); err != nil {
		return Config{}, errors.Wrap(err, "koanf: error validating config")
	}
	return config, nil
}

func SearchUpwardsForFile(filename string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		file := filepath.Join(wd, filename)
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}

		parent := filepath.Dir(wd)
		if parent == wd {
			return "", errors.Wrap(ErrFileNotFound, filename)
		}
		wd = parent
	}
}

func LoadDotEnv(fileName string) {
	file, err := SearchUpwardsForFile(fileName)
	if err != nil {
		log.Debug().Err(err).Msgf("failed to find %s file", fileName)
		return
	}

	if err := godotenv.Load(file); err != nil {
		log.Fatal().Err(err).Msg("invalid .env file")
	}

	log.Info().Msgf("loaded environment variables from %s", file)
}

// LoadConfig is the main entry point for configuration loading
func LoadConfig(envFile string, configFiles ...string) Config {
	if envFile != "" {
		LoadDotEnv(envFile)
	}

	configFile := ""
	for _, name := range configFiles {
		if found, err := SearchUpwardsForFile(name); err == nil {
			configFile = found
			break
		}
	}

	config, err := Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Caller().Msg("invalid configuration")
	}
	return config
}

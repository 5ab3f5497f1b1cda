package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/gidra39/trainlog/config"
	"github.com/gidra39/trainlog/slack"
	"github.com/gidra39/trainlog/telegram"
	"github.com/gidra39/trainlog/types"
)

const (
	ChannelTelegram = "TELEGRAM"
	ChannelSlack    = "SLACK"
	ChannelBoth     = "BOTH"
)

// Senders are swapped out in tests.
var (
	sendTelegram = telegram.SendTelegramNotification
	sendSlack    = slack.SendSlackNotification
)

// SendNotification delivers message on the configured channels. With BOTH,
// an error is returned only if every channel failed.
func SendNotification(ctx context.Context, message string, config config.Config) error {
	channels := strings.ToUpper(config.MessageChannels)
	if channels == "" {
		channels = ChannelTelegram
	}

	var telegramErr, slackErr error

	if channels == ChannelTelegram || channels == ChannelBoth {
		telegramErr = sendTelegram(ctx, message, config)
	}

	if channels == ChannelSlack || channels == ChannelBoth {
		slackErr = sendSlack(ctx, message, config)
	}

	switch channels {
	case ChannelBoth:
		if telegramErr != nil && slackErr != nil {
			return telegramErr
		}
		return nil
	case ChannelTelegram:
		return telegramErr
	case ChannelSlack:
		return slackErr
	}

	return nil
}

// FormatSummary renders the one-message summary of an analysis run. Empty
// paths are left out.
func FormatSummary(logFile string, s types.Summary, reportPath, plotPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Training log analysed: %s\n", logFile)
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Steps: %d, Epochs: %.2f\n", s.TotalSteps, s.TotalEpochs)
	if s.Loss != nil {
		fmt.Fprintf(&b, "Latest loss: %.4f (best %.4f)\n", s.Loss.Final, s.Loss.Best)
	}
	if s.Eval != nil {
		fmt.Fprintf(&b, "Latest eval loss: %.4f (best %.4f)\n", s.Eval.Latest, s.Eval.Best)
	}
	if reportPath != "" {
		fmt.Fprintf(&b, "Report: %s\n", reportPath)
	}
	if plotPath != "" {
		fmt.Fprintf(&b, "Plots: %s\n", plotPath)
	}
	return strings.TrimRight(b.String(), "\n")
}

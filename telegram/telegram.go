package telegram

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/gidra39/trainlog/config"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func SendTelegramNotification(ctx context.Context, message string, config config.Config) error {
	if config.TelegramBotToken == "" || config.TelegramChatID == "" {
		return errors.New("telegram bot token or chat id is not configured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(config.TelegramAPIURL, "/"), config.TelegramBotToken)

	params := url.Values{}
	params.Add("chat_id", config.TelegramChatID)
	params.Add("text", html.EscapeString(message))
	params.Add("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build Telegram request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: config.HTTPTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		// the error text carries the URL, and with it the bot token
		return errors.New("failed to send Telegram notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("telegram API returned status code %d", resp.StatusCode)
	}

	log.Info().Msg("successfully sent Telegram notification")
	return nil
}

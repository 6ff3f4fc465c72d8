package alerting

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// LogSink writes alerts to the application log
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, alert types.Alert) error {
	entry := s.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"kind":     alert.Kind,
		"severity": alert.Severity,
		"details":  alert.Details,
	})

	switch alert.Severity {
	case types.SeverityCritical:
		entry.Error(alert.Message)
	case types.SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}

// TelegramConfig configures the Telegram alert sink
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	// Endpoint overrides the Bot API URL format, e.g. for a local Bot API server
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether both token and chat are set
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}

// TelegramSink posts alerts to a Telegram chat
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink connects to the Bot API and verifies the token
func NewTelegramSink(config TelegramConfig, client *http.Client) (*TelegramSink, error) {
	if !config.Enabled() {
		return nil, fmt.Errorf("telegram sink requires bot token and chat id")
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(config.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	return &TelegramSink{bot: bot, chatID: config.ChatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Notify(ctx context.Context, alert types.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(s.chatID, FormatAlert(alert))); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FormatAlert renders an alert as plain text
func FormatAlert(alert types.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n%s", strings.ToUpper(string(alert.Severity)), alert.Kind, alert.Message)

	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, alert.Details[k])
	}

	fmt.Fprintf(&b, "\n%s", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

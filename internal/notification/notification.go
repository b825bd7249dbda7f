package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"market-signal-engine/config"
	"market-signal-engine/internal/ai/signal"
	"market-signal-engine/internal/events"
	"market-signal-engine/internal/logging"

	"github.com/cenkalti/backoff/v4"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal      NotificationType = "signal"
	NotifyUnavailable NotificationType = "unavailable"
	NotifyCooldown    NotificationType = "cooldown"
	NotifyError       NotificationType = "error"
)

const (
	sendTimeout    = 10 * time.Second
	maxSendElapsed = 30 * time.Second
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	Confidence int
	Timestamp  time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager delivers engine alerts to every enabled notifier
type Manager struct {
	notifiers     []Notifier
	minConfidence int
	logger        *logging.Logger
}

// NewManager creates a manager alerting on directional signals with at
// least minConfidence
func NewManager(minConfidence int, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers:     notifiers,
		minConfidence: minConfidence,
		logger:        logging.WithComponent("notification"),
	}
}

// NewManagerFromConfig builds the Telegram and Discord notifiers from config
func NewManagerFromConfig(cfg config.NotifyConfig) *Manager {
	return NewManager(cfg.MinConfidence,
		NewTelegramNotifier(TelegramConfig{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID, Enabled: cfg.Enabled}),
		NewDiscordNotifier(DiscordConfig{WebhookURL: cfg.DiscordWebhookURL, Enabled: cfg.Enabled}),
	)
}

// Enabled reports whether any notifier can deliver
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			return true
		}
	}
	return false
}

// Send delivers a notification to all enabled providers, retrying transient
// failures. The last delivery error is returned.
func (m *Manager) Send(ctx context.Context, notification *Notification) error {
	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		op := func() error { return n.Send(ctx, notification) }
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = maxSendElapsed
		if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
			m.logger.WithError(err).Warn("Notification delivery failed", "notifier", n.Name(), "type", string(notification.Type))
			lastErr = err
		}
	}
	return lastErr
}

// Subscribe forwards alert-worthy events from bus
func (m *Manager) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSignalUpdate, m.handle)
	bus.Subscribe(events.EventScanUnavailable, m.handle)
	bus.Subscribe(events.EventProviderCooldown, m.handle)
}

func (m *Manager) handle(event events.Event) {
	n := m.FromEvent(event)
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), maxSendElapsed+sendTimeout)
	defer cancel()
	_ = m.Send(ctx, n)
}

// FromEvent builds the notification for event, or nil when the event does
// not warrant one
func (m *Manager) FromEvent(event events.Event) *Notification {
	switch event.Type {
	case events.EventSignalUpdate:
		s, ok := event.Data["signal"].(*signal.MarketSignal)
		if !ok || s.Sentiment == "NEUTRAL" || s.Confidence < m.minConfidence {
			return nil
		}
		return signalNotification(s)

	case events.EventScanUnavailable:
		next, _ := event.Data["next_available_at"].(time.Time)
		return &Notification{
			Type:      NotifyUnavailable,
			Title:     "Market scan skipped",
			Message:   fmt.Sprintf("All inference providers are at capacity. Next available at %s.", next.UTC().Format(time.RFC3339)),
			Timestamp: time.Now(),
		}

	case events.EventProviderCooldown:
		provider, _ := event.Data["provider"].(string)
		until, _ := event.Data["cooldown_until"].(time.Time)
		return &Notification{
			Type:      NotifyCooldown,
			Title:     fmt.Sprintf("Provider %s rate limited", provider),
			Message:   fmt.Sprintf("Cooling down until %s.", until.UTC().Format(time.RFC3339)),
			Timestamp: time.Now(),
		}
	}
	return nil
}

func signalNotification(s *signal.MarketSignal) *Notification {
	return &Notification{
		Type:  NotifySignal,
		Title: fmt.Sprintf("%s %s on %s", s.Sentiment, s.Symbol, s.Exchange),
		Message: fmt.Sprintf("%s @ %.4f\nConfidence: %d%%\nSupport: %.4f | Resistance: %.4f\nExpected move: %.2f%% in %d min\n%s",
			s.RecommendedSide, s.Price, s.Confidence, s.SupportLevel, s.ResistanceLevel,
			s.ExpectedMovePercent, s.ProfitTimeframeMinutes, s.Insight),
		Symbol:     s.Symbol,
		Price:      s.Price,
		Confidence: s.Confidence,
		Timestamp:  s.CreatedAt,
	}
}

// postJSON sends payload and treats 4xx responses as permanent
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, okStatus ...int) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range okStatus {
		if resp.StatusCode == code {
			return nil
		}
	}
	err = fmt.Errorf("API returned status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

const telegramBaseURL = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
	BaseURL  string
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	base := config.BaseURL
	if base == "" {
		base = telegramBaseURL
	}
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		baseURL:  base,
		client:   &http.Client{Timeout: sendTimeout},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, notification *Notification) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message),
		"parse_mode": "Markdown",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	if err := postJSON(ctx, t.client, url, payload, http.StatusOK); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: sendTimeout},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x808080 // Grey
	switch {
	case notification.Type == NotifySignal && strings.HasPrefix(notification.Title, "BULLISH"):
		color = 0x00FF00
	case notification.Type == NotifySignal:
		color = 0xFF0000
	case notification.Type == NotifyError:
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.UTC().Format(time.RFC3339),
	}
	if notification.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
			{"name": "Price", "value": fmt.Sprintf("%.4f", notification.Price), "inline": true},
			{"name": "Confidence", "value": fmt.Sprintf("%d%%", notification.Confidence), "inline": true},
		}
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

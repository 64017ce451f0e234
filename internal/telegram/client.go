// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/seisguard/internal/intensity"
	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
	"github.com/rewired-gh/seisguard/internal/pipeline"
)

const timeLayout = "2006-01-02 15:04:05.000 MST"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatusProvider reports the live pipeline state for the /status command.
type StatusProvider interface {
	Status() pipeline.Status
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	send           sender
	chatID         int64
	station        string
	maxRetries     int
	retryDelayBase time.Duration

	// intensity notifications are edge-triggered on this class boundary
	minIntensity float64
	mu           sync.Mutex
	aboveMin     bool
}

// NewClient creates a new Telegram client. minIntensity is the instrumental intensity
// at which an intensity notification is sent; zero or less disables them.
func NewClient(botToken, chatID, station string, minIntensity float64, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	c := newClient(bot, chatIDInt, station, minIntensity, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, station string, minIntensity float64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		send:           s,
		chatID:         chatID,
		station:        station,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		minIntensity:   minIntensity,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status StatusProvider) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status StatusProvider) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status":
		if status == nil {
			return
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, formatStatus(c.station, status.Status(), time.Now()))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	if _, err := c.send.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// sendWithRetry sends msg with linear-backoff retry, giving up early if ctx ends.
func (c *Client) sendWithRetry(ctx context.Context, msg tgbotapi.Chattable) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.send.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"
	return c.sendWithRetry(ctx, msg)
}

// SendError sends a service error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cause error) error {
	text := fmt.Sprintf("⚠️ *Service error*\n`%s`", escapeMarkdownV2(cause.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Service recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// AlertTriggered sends the alarm notification.
func (c *Client) AlertTriggered(ctx context.Context, alert models.Alert) error {
	return c.sendMarkdownV2(ctx, formatTrigger(c.station, alert))
}

// AlertReset sends the all-clear notification with the episode summary.
func (c *Client) AlertReset(ctx context.Context, alert models.Alert) error {
	return c.sendMarkdownV2(ctx, formatReset(c.station, alert))
}

// Intensity notifies once when the intensity rises to the configured minimum and
// re-arms after it falls half a class below it.
func (c *Client) Intensity(ctx context.Context, result models.IntensityResult) error {
	if c.minIntensity <= 0 {
		return nil
	}
	c.mu.Lock()
	notify := false
	switch {
	case !c.aboveMin && result.Intensity >= c.minIntensity:
		c.aboveMin = true
		notify = true
	case c.aboveMin && result.Intensity < c.minIntensity-0.5:
		c.aboveMin = false
	}
	c.mu.Unlock()

	if !notify {
		return nil
	}
	return c.sendMarkdownV2(ctx, formatIntensity(c.station, result))
}

// SendSnapshot uploads the waveform image rendered for alert.
func (c *Client) SendSnapshot(ctx context.Context, alert models.Alert, path string) error {
	photo := tgbotapi.NewPhoto(c.chatID, tgbotapi.FilePath(path))
	photo.Caption = fmt.Sprintf("%s %s triggered %s", c.station, alert.Channel, alert.TriggeredAt.UTC().Format(timeLayout))
	return c.sendWithRetry(ctx, photo)
}

func formatTrigger(station string, a models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Seismic trigger* at %s\n\n", escapeMarkdownV2(station))
	fmt.Fprintf(&b, "📡 Channel: `%s`\n", escapeMarkdownV2(a.Channel))
	fmt.Fprintf(&b, "📅 Time: %s\n", escapeMarkdownV2(a.TriggeredAt.UTC().Format(timeLayout)))
	fmt.Fprintf(&b, "📈 STA/LTA: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.2f", a.TriggerRatio)))
	return b.String()
}

func formatReset(station string, a models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *Trigger reset* at %s\n\n", escapeMarkdownV2(station))
	fmt.Fprintf(&b, "📡 Channel: `%s`\n", escapeMarkdownV2(a.Channel))
	fmt.Fprintf(&b, "⏱ Duration: %s\n", escapeMarkdownV2(a.Duration().Round(10*time.Millisecond).String()))
	fmt.Fprintf(&b, "📈 Peak STA/LTA: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.2f", a.MaxRatio)))
	if a.MaxIntensity > 0 {
		fmt.Fprintf(&b, "🌐 Peak intensity: *%s* \\(shindo %s\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.1f", a.MaxIntensity)),
			escapeMarkdownV2(intensity.Class(a.MaxIntensity)))
	}
	return b.String()
}

func formatIntensity(station string, r models.IntensityResult) string {
	return fmt.Sprintf("🌐 *Intensity %s* at %s \\(shindo %s\\)\n📅 %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f", r.Intensity)),
		escapeMarkdownV2(station),
		escapeMarkdownV2(r.Class),
		escapeMarkdownV2(r.Timestamp.UTC().Format(timeLayout)))
}

func formatStatus(station string, s pipeline.Status, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Status* %s\n\n", escapeMarkdownV2(station))
	fmt.Fprintf(&b, "Packets: %d, segments: %d, decode errors: %d\n",
		s.Stats.Packets, s.Stats.Segments, s.Stats.DecodeErrors)
	fmt.Fprintf(&b, "Triggers: %d, resets: %d\n", s.Stats.Triggers, s.Stats.Resets)
	for _, ch := range s.Channels {
		line := fmt.Sprintf("%s %s ratio %.2f", ch.ID, ch.State, ch.Ratio)
		if !ch.LastSample.IsZero() {
			line += fmt.Sprintf(" (last sample %s ago)", now.Sub(ch.LastSample).Round(time.Second))
		}
		fmt.Fprintf(&b, "• %s\n", escapeMarkdownV2(line))
	}
	if len(s.Active) > 0 {
		fmt.Fprintf(&b, "\n🚨 Active alerts: %d\n", len(s.Active))
		for _, a := range s.Active {
			fmt.Fprintf(&b, "• %s\n", escapeMarkdownV2(fmt.Sprintf("%s since %s", a.Channel, a.TriggeredAt.UTC().Format(timeLayout))))
		}
	}
	if s.LastIntensity != nil {
		fmt.Fprintf(&b, "\nLatest intensity: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f (shindo %s)", s.LastIntensity.Intensity, s.LastIntensity.Class)))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

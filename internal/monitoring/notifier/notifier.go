// Package notifier implements C10: rate-limited, retried, sanitized delivery
// of structured alert messages to an external chat channel (Telegram Bot
// API), grounded on original_source's TelegramReporter/escape_markdown.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowlane/pulsefeed/infrastructure/httputil"
	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/infrastructure/ratelimit"
	"github.com/flowlane/pulsefeed/infrastructure/resilience"
	"github.com/flowlane/pulsefeed/internal/monitoring/sanitize"
)

// Level is the alert severity, driving the leading emoji and whether the
// notification is delivered silently.
type Level string

const (
	LevelCritical Level = "critical"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
)

const (
	defaultMaxMessageLength = 4000
	defaultMaxTracebackLines = 15
	telegramAPIBase          = "https://api.telegram.org/bot"
)

var emoji = map[Level]string{
	LevelCritical: "\U0001F534", // red circle
	LevelWarning:  "⚠️",
	LevelInfo:     "ℹ️",
}

var specialMarkdownChars = []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}

// EscapeMarkdown escapes every MarkdownV2 reserved character in text so it
// can be interpolated outside of a code fence.
func EscapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)
	for _, r := range text {
		c := string(r)
		for _, special := range specialMarkdownChars {
			if c == special {
				b.WriteByte('\\')
				break
			}
		}
		b.WriteString(c)
	}
	return b.String()
}

// Config configures a Notifier. A zero-value BotToken or ChatID disables
// delivery: Send becomes a successful no-op.
type Config struct {
	BotToken        string
	ChatID          string
	ThreadID        string
	Env             string
	MaxMessageLength int
	MaxTracebackLines int
}

// Alert is the structured content of one outbound message.
type Alert struct {
	Title      string
	Message    string
	Level      Level
	Details    map[string]string
	ErrorType  string
	ErrorText  string
	Traceback  []string
}

// Notifier sends alerts to a Telegram chat, subject to a global minimum
// inter-send interval, bounded retries, and truncation/sanitization of
// everything placed on the wire.
type Notifier struct {
	cfg    Config
	client *ratelimit.RateLimitedClient
	retry  resilience.RetryConfig
	log    *logging.Logger

	// apiBase defaults to telegramAPIBase; overridable in tests.
	apiBase string
	now     func() time.Time
}

// New builds a Notifier. log may be nil, in which case a default logger for
// the "notifier" service is created.
func New(cfg Config, log *logging.Logger) *Notifier {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}
	if cfg.MaxTracebackLines <= 0 {
		cfg.MaxTracebackLines = defaultMaxTracebackLines
	}
	if log == nil {
		log = logging.New("notifier", "info", "json")
	}
	httpClient := httputil.CopyHTTPClientWithTimeout(&http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}, 10*time.Second, true)
	return &Notifier{
		cfg: cfg,
		// 10 events/sec, burst 1: the steady-state gap between successive
		// sends is at least 100ms, matching the original's mutex-guarded
		// last-send timestamp.
		client: ratelimit.NewRateLimitedClient(httpClient, ratelimit.RateLimitConfig{RequestsPerSecond: 10, Burst: 1}),
		retry:  resilience.DefaultRetryConfig(),
		log:    log,
		apiBase: telegramAPIBase,
		now:     time.Now,
	}
}

// Enabled reports whether the Notifier has the credentials needed to send.
func (n *Notifier) Enabled() bool {
	return n.cfg.BotToken != "" && n.cfg.ChatID != ""
}

// SendAlert formats and delivers a structured alert. It never returns an
// error to the caller: transport failures are logged and reflected only in
// the boolean return, since monitoring must never impact serving.
func (n *Notifier) SendAlert(ctx context.Context, a Alert) bool {
	text := n.formatAlert(a)
	disableNotification := a.Level == LevelInfo
	return n.send(ctx, text, disableNotification)
}

// SendMessage delivers a pre-formatted message verbatim (after truncation
// and sanitization), used for daily reports and other free-form digests.
func (n *Notifier) SendMessage(ctx context.Context, text string, disableNotification bool) bool {
	return n.send(ctx, text, disableNotification)
}

func (n *Notifier) formatAlert(a Alert) string {
	icon, ok := emoji[a.Level]
	if !ok {
		icon = "\U0001F4E2" // loudspeaker, unrecognized level
	}
	lines := []string{
		fmt.Sprintf("%s *%s*", icon, EscapeMarkdown(a.Title)),
		fmt.Sprintf("_%s_", EscapeMarkdown(strings.ToUpper(n.cfg.Env))),
		"",
		EscapeMarkdown(a.Message),
	}

	if len(a.Details) > 0 {
		lines = append(lines, "", "*Details:*")
		for key, value := range a.Details {
			lines = append(lines, fmt.Sprintf("• %s: `%s`", EscapeMarkdown(key), EscapeMarkdown(value)))
		}
	}

	if a.ErrorType != "" {
		errText := a.ErrorText
		if len(errText) > 500 {
			errText = errText[:500]
		}
		lines = append(lines, "", fmt.Sprintf("*Error:* `%s: %s`", EscapeMarkdown(a.ErrorType), EscapeMarkdown(errText)))
	}

	if len(a.Traceback) > 0 {
		tb := sanitize.Traceback(a.Traceback, n.cfg.MaxTracebackLines)
		lines = append(lines, "", "*Traceback:*", "```\n"+strings.Join(tb, "\n")+"\n```")
	}

	lines = append(lines, "", fmt.Sprintf("⏰ _%s_", EscapeMarkdown(n.now().UTC().Format("2006-01-02 15:04:05 UTC"))))

	return strings.Join(lines, "\n")
}

type sendPayload struct {
	ChatID               string `json:"chat_id"`
	Text                 string `json:"text"`
	ParseMode            string `json:"parse_mode"`
	DisableNotification  bool   `json:"disable_notification"`
	MessageThreadID      int    `json:"message_thread_id,omitempty"`
}

func (n *Notifier) send(ctx context.Context, text string, disableNotification bool) bool {
	if !n.Enabled() {
		n.log.Debug(ctx, "monitoring disabled, skipping message", nil)
		return false
	}

	text = sanitize.String(text)
	if len(text) > n.cfg.MaxMessageLength {
		text = text[:n.cfg.MaxMessageLength-100] + "\n\n... *[Message truncated]*"
	}

	payload := sendPayload{
		ChatID:              n.cfg.ChatID,
		Text:                text,
		ParseMode:           "MarkdownV2",
		DisableNotification: disableNotification,
	}
	if n.cfg.ThreadID != "" {
		if id, err := strconv.Atoi(n.cfg.ThreadID); err == nil {
			payload.MessageThreadID = id
		}
	}

	// A 4xx (other than 429) is permanent: deliver reports it by setting
	// rejected and returning nil, which stops the retry loop without
	// surfacing a misleading "succeeded" result below.
	var rejected bool
	err := resilience.Retry(ctx, n.retry, func() error {
		return n.deliver(ctx, payload, &rejected)
	})
	if err != nil {
		n.log.Error(ctx, "failed to send telegram message", err, nil)
		return false
	}
	return !rejected
}

func (n *Notifier) deliver(ctx context.Context, payload sendPayload, rejected *bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notifier: marshal payload: %w", err)
	}

	url := n.apiBase + n.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60
		if v := resp.Header.Get("Retry-After"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				retryAfter = parsed
			}
		}
		n.log.Warn(ctx, "telegram rate limit hit", map[string]interface{}{"retry_after": retryAfter})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(retryAfter) * time.Second):
		}
		return fmt.Errorf("notifier: rate limited, retrying")
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		data, _ := io.ReadAll(resp.Body)
		n.log.Error(ctx, "telegram rejected message", nil, map[string]interface{}{"status": resp.StatusCode, "body": string(data)})
		*rejected = true
		return nil
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("notifier: telegram returned %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("notifier: decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("notifier: telegram api reported not-ok")
	}
	return nil
}

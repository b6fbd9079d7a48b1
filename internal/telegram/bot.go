package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org/bot"

// maxMessageLen is Telegram's limit for a single text message.
const maxMessageLen = 4096

// Notifier posts messages to a single Telegram chat or channel.
type Notifier struct {
	token   string
	chatID  string
	baseURL string
	logger  *slog.Logger
	client  *http.Client
}

func NewNotifier(token, chatID string, logger *slog.Logger) *Notifier {
	return &Notifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether both token and chat are set.
func (n *Notifier) Configured() bool {
	return n != nil && n.token != "" && n.chatID != ""
}

// SendMessage sends an HTML-formatted text message to the configured chat.
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if id, err := strconv.ParseInt(n.chatID, 10, 64); err == nil {
		payload["chat_id"] = id
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.baseURL+n.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// FormatAlert renders an alert as an HTML message with an optional link.
func FormatAlert(source, text, link string) string {
	var b strings.Builder
	b.WriteString("🔔 <b>")
	b.WriteString(html.EscapeString(source))
	b.WriteString("</b>\n\n")
	b.WriteString(html.EscapeString(strings.TrimSpace(text)))
	if link != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">source</a>", html.EscapeString(link))
	}
	return b.String()
}

package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
)

type TelegramNotifier struct {
	token  string
	chatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
	}
}

func (t *TelegramNotifier) SendAlert(level, message string) error {
	text := fmt.Sprintf("%s *Execution Engine Alert*\n\n%s", levelEmoji(level), message)

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	resp, err := http.Post(apiURL, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// levelEmoji picks the visual prefix for an alert level. "risk" marks
// risk-gate and breaker events apart from operational errors.
func levelEmoji(level string) string {
	switch level {
	case "warning":
		return "⚠️"
	case "error", "critical":
		return "🚨"
	case "risk":
		return "🛑"
	case "success":
		return "✅"
	default:
		return "ℹ️"
	}
}

// AlertError sends an alert for an engine error with the level derived from
// its category: risk rejections and breaker trips alert as "risk", transient
// failures as "warning", everything else as "error".
func AlertError(n Notifier, err error) error {
	if n == nil || err == nil {
		return nil
	}

	level := "error"
	switch engerr.CategoryOf(err) {
	case engerr.ErrorCategoryRiskRejected, engerr.ErrorCategoryCircuitBreaker:
		level = "risk"
	case engerr.ErrorCategoryTransient:
		level = "warning"
	}
	return n.SendAlert(level, err.Error())
}

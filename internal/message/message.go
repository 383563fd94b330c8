package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// ClickEventsQueue is the durable work queue consumed by the click counter worker.
	ClickEventsQueue = "click_events_queue"
	// AlertsExchange is the fanout exchange every notification bot binds to.
	AlertsExchange = "alerts_exchange"
)

var (
	ErrMalformedClick = errors.New("malformed click event")
	ErrMalformedAlert = errors.New("malformed alert event")
)

// Level is the severity carried by an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// ParseLevel normalises s to a known level. Anything unrecognised is INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelWarning:
		return LevelWarning
	case LevelCritical:
		return LevelCritical
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	return string(l)
}

// Alert is an operational notification broadcast to every connected bot.
type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

// EncodeClick returns the wire body for a click event: the raw short code.
func EncodeClick(shortCode string) []byte {
	return []byte(shortCode)
}

// DecodeClick extracts the short code from a click event body.
func DecodeClick(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedClick)
	}
	code := strings.TrimSpace(string(body))
	if code == "" {
		return "", fmt.Errorf("%w: empty short code", ErrMalformedClick)
	}
	return code, nil
}

// EncodeAlert serialises an alert. The level is normalised before encoding.
func EncodeAlert(a Alert) ([]byte, error) {
	a.Level = ParseLevel(string(a.Level))
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode alert: %w", err)
	}
	return body, nil
}

// DecodeAlert parses an alert payload. A missing or unknown level decodes as INFO.
func DecodeAlert(body []byte) (Alert, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Alert{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedAlert)
	}

	var raw struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Level   any    `json:"level"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Alert{}, fmt.Errorf("%w: %v", ErrMalformedAlert, err)
	}

	level, _ := raw.Level.(string)

	return Alert{
		Title:   raw.Title,
		Message: raw.Message,
		Level:   ParseLevel(level),
	}, nil
}

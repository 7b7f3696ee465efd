package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventSessionStatus marks envelopes that report a session lifecycle change
// instead of a message.
const EventSessionStatus = "session.status"

// MediaPlaceholder stands in for message bodies that are media without text.
const MediaPlaceholder = "<media>"

// Account is the gateway's "me" block identifying the receiving account.
type Account struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// Payload is the message (or status) body of a webhook envelope. Timestamp
// fields are left untyped because gateways deliver them as numbers or
// strings interchangeably.
type Payload struct {
	ID               string         `json:"id"`
	ChatID           string         `json:"chatId"`
	From             string         `json:"from"`
	To               string         `json:"to"`
	FromMe           bool           `json:"fromMe"`
	Timestamp        any            `json:"timestamp"`
	MessageTimestamp any            `json:"messageTimestamp"`
	HasMedia         bool           `json:"hasMedia"`
	Body             string         `json:"body"`
	Participant      string         `json:"participant"`
	Status           string         `json:"status"`
	Data             map[string]any `json:"_data"`
}

// Envelope is one webhook delivery. Some gateway versions nest the whole
// envelope under a "body" key; Unwrap flattens that.
type Envelope struct {
	Event   string    `json:"event"`
	Session string    `json:"session"`
	Me      *Account  `json:"me"`
	Payload *Payload  `json:"payload"`
	Body    *Envelope `json:"body"`
}

// ParseEnvelope decodes and flattens a webhook body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env.Unwrap(), nil
}

// Unwrap returns the nested envelope when the payload arrived under a "body"
// key, preferring outer fields that the nesting left blank.
func (e Envelope) Unwrap() Envelope {
	if e.Payload != nil || e.Body == nil {
		return e
	}
	inner := e.Body.Unwrap()
	if inner.Event == "" {
		inner.Event = e.Event
	}
	if inner.Session == "" {
		inner.Session = e.Session
	}
	if inner.Me == nil {
		inner.Me = e.Me
	}
	return inner
}

// IsSessionStatus reports whether the envelope is a session lifecycle event.
func (e Envelope) IsSessionStatus() bool {
	return e.Event == EventSessionStatus
}

// AccountID returns the raw receiving-account identifier, if present.
func (e Envelope) AccountID() string {
	if e.Me == nil {
		return ""
	}
	return e.Me.ID
}

// ContactIdentifier returns the contact-side address: the sender for inbound
// events, the recipient for outbound ones, falling back to the chat id.
func (p *Payload) ContactIdentifier() string {
	if p == nil {
		return ""
	}
	raw := p.From
	if p.FromMe {
		raw = p.To
	}
	if strings.TrimSpace(raw) == "" {
		raw = p.ChatID
	}
	return raw
}

// IsGroup reports whether the event belongs to a group, newsletter or
// broadcast chat, none of which feed the CRM.
func (p *Payload) IsGroup() bool {
	if p == nil {
		return false
	}
	if strings.TrimSpace(p.Participant) != "" {
		return true
	}
	for _, id := range []string{p.ChatID, p.From, p.To} {
		if strings.HasSuffix(id, "@g.us") ||
			strings.HasSuffix(id, "@newsletter") ||
			strings.HasSuffix(id, "@broadcast") {
			return true
		}
	}
	return false
}

// Content returns the display content: the trimmed text body, or the media
// placeholder when the event is media without text.
func (p *Payload) Content() string {
	if p == nil {
		return ""
	}
	body := strings.TrimSpace(p.Body)
	if body == "" && p.HasMedia {
		return MediaPlaceholder
	}
	return body
}

// IsEmpty reports whether the event carries nothing worth persisting.
func (p *Payload) IsEmpty() bool {
	return p == nil || (strings.TrimSpace(p.Body) == "" && !p.HasMedia)
}

// SentAt resolves the event timestamp: explicit timestamp first, then the
// provider millisecond field, then the nested raw-envelope field. Numeric
// values are read as milliseconds when large enough, seconds otherwise.
// Everything absent or invalid falls back to now.
func (p *Payload) SentAt(now time.Time) time.Time {
	if p == nil {
		return now
	}
	candidates := []any{p.Timestamp, p.MessageTimestamp}
	if p.Data != nil {
		candidates = append(candidates, p.Data["messageTimestamp"])
	}
	for _, c := range candidates {
		if ts, ok := coerceTime(c); ok {
			return ts
		}
	}
	return now
}

// Values at or above this are taken as epoch milliseconds; anything below is
// epoch seconds. The cutover sits far past any plausible seconds value.
const millisecondThreshold = int64(1e12)

func coerceTime(v any) (time.Time, bool) {
	var n int64
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		n = int64(t)
	case int64:
		n = t
	case json.Number:
		parsed, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		n = parsed
	default:
		return time.Time{}, false
	}
	if n <= 0 {
		return time.Time{}, false
	}
	if n >= millisecondThreshold {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

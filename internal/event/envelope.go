// Package event decodes the plaintext carried inside an encrypted platform push.
//
// Two layouts are understood:
//
//	schema 2.0: {"schema":"2.0","header":{"event_id":..,"event_type":..},"event":{..}}
//	schema 1.0: {"uuid":..,"token":..,"ts":..,"type":"event_callback","event":{"type":..}}
//
// plus the subscription handshake {"challenge":..,"token":..,"type":"url_verification"}.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// TypeURLVerification marks the subscription handshake message.
const TypeURLVerification = "url_verification"

// ErrMalformed is returned for plaintext that is not a recognisable message.
var ErrMalformed = errors.New("malformed event message")

// Envelope is a decoded business event. Payload is kept opaque; dispatch
// interprets it by EventType.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	AppID      string          `json:"app_id,omitempty"`
	TenantKey  string          `json:"tenant_key,omitempty"`
	CreateTime int64           `json:"create_time"`
	Schema     string          `json:"schema"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// Token is the verification token echoed by the platform. Never serialised.
	Token string `json:"-"`
}

// Message is either a handshake challenge or an event envelope.
type Message struct {
	Type      string
	Challenge string
	Token     string
	Envelope  Envelope
}

// IsChallenge reports whether m is a subscription handshake.
func (m Message) IsChallenge() bool {
	return m.Type == TypeURLVerification
}

// FlexString accepts a JSON string or a JSON number and keeps its text form.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

type header struct {
	EventID    string     `json:"event_id"`
	EventType  string     `json:"event_type"`
	CreateTime FlexString `json:"create_time"`
	Token      string     `json:"token"`
	AppID      string     `json:"app_id"`
	TenantKey  string     `json:"tenant_key"`
}

type rawMessage struct {
	Schema string          `json:"schema"`
	Header *header         `json:"header"`
	Event  json.RawMessage `json:"event"`

	// schema 1.0 and handshake fields
	UUID      string     `json:"uuid"`
	Token     string     `json:"token"`
	TS        FlexString `json:"ts"`
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
}

type legacyEvent struct {
	Type      string `json:"type"`
	AppID     string `json:"app_id"`
	TenantKey string `json:"tenant_key"`
}

// Parse decodes decrypted plaintext. Any structural problem, including an
// event without an identifier, returns ErrMalformed.
func Parse(plaintext []byte) (Message, error) {
	plaintext = bytes.TrimSpace(plaintext)
	if len(plaintext) == 0 || plaintext[0] != '{' {
		return Message{}, ErrMalformed
	}

	var raw rawMessage
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return Message{}, ErrMalformed
	}

	if raw.Type == TypeURLVerification {
		if raw.Challenge == "" {
			return Message{}, ErrMalformed
		}
		return Message{Type: raw.Type, Challenge: raw.Challenge, Token: raw.Token}, nil
	}

	if raw.Header != nil {
		return parseV2(raw)
	}
	return parseV1(raw)
}

func parseV2(raw rawMessage) (Message, error) {
	h := raw.Header
	if h.EventID == "" || h.EventType == "" {
		return Message{}, ErrMalformed
	}
	schema := raw.Schema
	if schema == "" {
		schema = "2.0"
	}
	env := Envelope{
		EventID:    h.EventID,
		EventType:  h.EventType,
		AppID:      h.AppID,
		TenantKey:  h.TenantKey,
		CreateTime: parseMillis(string(h.CreateTime)),
		Schema:     schema,
		Payload:    raw.Event,
		Token:      h.Token,
	}
	return Message{Type: h.EventType, Token: h.Token, Envelope: env}, nil
}

func parseV1(raw rawMessage) (Message, error) {
	if raw.UUID == "" || len(raw.Event) == 0 {
		return Message{}, ErrMalformed
	}
	var ev legacyEvent
	if err := json.Unmarshal(raw.Event, &ev); err != nil || ev.Type == "" {
		return Message{}, ErrMalformed
	}
	env := Envelope{
		EventID:    raw.UUID,
		EventType:  ev.Type,
		AppID:      ev.AppID,
		TenantKey:  ev.TenantKey,
		CreateTime: parseSecondsAsMillis(string(raw.TS)),
		Schema:     "1.0",
		Payload:    raw.Event,
		Token:      raw.Token,
	}
	return Message{Type: ev.Type, Token: raw.Token, Envelope: env}, nil
}

// parseMillis reads an integer millisecond timestamp; garbage yields 0.
func parseMillis(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseSecondsAsMillis reads "1502199207.7171419"-style fractional seconds.
func parseSecondsAsMillis(s string) int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v * 1000)
}

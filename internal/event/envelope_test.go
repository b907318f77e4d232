package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchemaV2(t *testing.T) {
	body := []byte(`{
  "schema": "2.0",
  "header": {
    "event_id": "5e3702a84e847582be8db7fb73283c02",
    "event_type": "im.message.receive_v1",
    "create_time": "1608725989000",
    "token": "rvaYgkND1GOiu5MM0E1rncYC6PLtF7JV",
    "app_id": "cli_9f5343c580712544",
    "tenant_key": "2ca1d211f64f6438"
  },
  "event": {"message": {"message_id": "om_1"}}
}`)

	msg, err := Parse(body)
	require.NoError(t, err)
	assert.False(t, msg.IsChallenge())

	env := msg.Envelope
	assert.Equal(t, "5e3702a84e847582be8db7fb73283c02", env.EventID)
	assert.Equal(t, "im.message.receive_v1", env.EventType)
	assert.Equal(t, "cli_9f5343c580712544", env.AppID)
	assert.Equal(t, "2ca1d211f64f6438", env.TenantKey)
	assert.Equal(t, int64(1608725989000), env.CreateTime)
	assert.Equal(t, "2.0", env.Schema)
	assert.Equal(t, "rvaYgkND1GOiu5MM0E1rncYC6PLtF7JV", env.Token)
	assert.JSONEq(t, `{"message": {"message_id": "om_1"}}`, string(env.Payload))
}

func TestParseSchemaV1(t *testing.T) {
	body := []byte(`{
  "uuid": "41b5f371157e3d5341b38b20396e77a3",
  "token": "tok",
  "ts": "1502199207.7171419",
  "type": "event_callback",
  "event": {"type": "message", "app_id": "cli_x", "tenant_key": "tk"}
}`)

	msg, err := Parse(body)
	require.NoError(t, err)

	env := msg.Envelope
	assert.Equal(t, "41b5f371157e3d5341b38b20396e77a3", env.EventID)
	assert.Equal(t, "message", env.EventType)
	assert.Equal(t, "cli_x", env.AppID)
	assert.Equal(t, "tk", env.TenantKey)
	assert.Equal(t, int64(1502199207717), env.CreateTime)
	assert.Equal(t, "1.0", env.Schema)
}

func TestParseChallenge(t *testing.T) {
	msg, err := Parse([]byte(`{"challenge":"abc123","token":"tok","type":"url_verification"}`))
	require.NoError(t, err)
	assert.True(t, msg.IsChallenge())
	assert.Equal(t, "abc123", msg.Challenge)
	assert.Equal(t, "tok", msg.Token)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"whitespace", `   `},
		{"not an object", `["a"]`},
		{"invalid json", `{"schema":`},
		{"v2 without event id", `{"schema":"2.0","header":{"event_type":"x"}}`},
		{"v2 without event type", `{"schema":"2.0","header":{"event_id":"e1"}}`},
		{"v1 without uuid", `{"type":"event_callback","event":{"type":"message"}}`},
		{"v1 without event type", `{"uuid":"u1","event":{}}`},
		{"challenge without value", `{"type":"url_verification","token":"t"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestFlexStringAcceptsNumbers(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"17","b":1700000000,"c":null}`), &v))
	assert.Equal(t, FlexString("17"), v.A)
	assert.Equal(t, FlexString("1700000000"), v.B)
	assert.Equal(t, FlexString(""), v.C)
}

func TestEnvelopeJSONOmitsToken(t *testing.T) {
	env := Envelope{EventID: "e1", EventType: "t", Token: "secret"}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}

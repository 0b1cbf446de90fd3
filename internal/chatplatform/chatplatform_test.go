package chatplatform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTextWebhook = `{
	"entry": [{
		"changes": [{
			"value": {
				"metadata": {"phone_number_id": "phone-1"},
				"contacts": [{"profile": {"name": "Jane Doe"}}],
				"messages": [{"id": "wamid.1", "from": "5215512345678", "timestamp": "1700000000", "text": {"body": "Hola"}}]
			}
		}]
	}]
}`

const sampleButtonWebhook = `{
	"entry": [{
		"changes": [{
			"value": {
				"metadata": {"phone_number_id": "phone-1"},
				"messages": [{
					"id": "wamid.2", "from": "5215512345678", "timestamp": "1700000001",
					"interactive": {"type": "button_reply", "button_reply": {"id": "confirm_yes", "title": "Sí"}}
				}]
			}
		}]
	}]
}`

func TestParseWebhookTextMessage(t *testing.T) {
	msg, err := ParseWebhook([]byte(sampleTextWebhook))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MessageTypeText, msg.Type)
	assert.Equal(t, "Hola", msg.Text)
	assert.Equal(t, "Jane Doe", msg.ContactName)
	assert.Equal(t, "phone-1", msg.PhoneNumberID)
}

func TestParseWebhookButtonReply(t *testing.T) {
	msg, err := ParseWebhook([]byte(sampleButtonWebhook))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MessageTypeInteractive, msg.Type)
	assert.Equal(t, "confirm_yes", msg.ButtonID)
	assert.Equal(t, "Sí", msg.ButtonTitle)
}

func TestParseWebhookNoMessagesReturnsNil(t *testing.T) {
	msg, err := ParseWebhook([]byte(`{"entry":[{"changes":[{"value":{}}]}]}`))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestParseWebhookMalformedJSON(t *testing.T) {
	_, err := ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func TestVerifyChallengeSucceeds(t *testing.T) {
	challenge, ok := VerifyChallenge("subscribe", "secret", "12345", "secret")
	assert.True(t, ok)
	assert.Equal(t, "12345", challenge)
}

func TestVerifyChallengeRejectsWrongToken(t *testing.T) {
	_, ok := VerifyChallenge("subscribe", "wrong", "12345", "secret")
	assert.False(t, ok)
}

func TestSendTextPostsToMessagesEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/phone-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "text", body["type"])
		json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]string{{"id": "wamid.out1"}}})
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	id, err := client.SendText(context.Background(), "phone-1", "5215512345678", "hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out1", id)
}

func TestSendInteractiveIncludesButtons(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		interactive := body["interactive"].(map[string]any)
		action := interactive["action"].(map[string]any)
		buttons := action["buttons"].([]any)
		assert.Len(t, buttons, 2)
		json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]string{{"id": "wamid.out2"}}})
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	_, err := client.SendInteractive(context.Background(), "phone-1", "5215512345678", "¿Confirmas?", []Button{
		{ID: "confirm_yes", Title: "Sí"}, {ID: "confirm_no", Title: "No"},
	})
	require.NoError(t, err)
}

func TestSendTextNonOKStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid recipient"}`))
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	_, err := client.SendText(context.Background(), "phone-1", "bad", "hola")
	assert.Error(t, err)
}

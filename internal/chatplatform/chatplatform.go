// Package chatplatform implements the chat-platform adapter (C5): inbound
// webhook parsing (text, interactive button replies), the GET verification
// challenge, and outbound text/interactive/template sends. Grounded on
// original_source/app/integrations/whatsapp/{client,models}.py for wire
// shapes and the teacher's internal/messaging package for the Go split
// between a ReplyMessenger-style sender and a webhook parser.
package chatplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vitalishealth/bookingai/internal/apperrors"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

var chatTracer = otel.Tracer("bookingai.internal.chatplatform")

// MessageType enumerates the inbound message shapes this adapter parses.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeImage       MessageType = "image"
)

// InboundMessage is a normalized webhook message, independent of the raw
// wire envelope.
type InboundMessage struct {
	MessageID     string
	From          string // raw phone digits as sent by the platform
	PhoneNumberID string
	Type          MessageType
	Text          string
	ButtonID      string
	ButtonTitle   string
	MediaID       string
	ContactName   string
	Timestamp     string
}

// ParseWebhook extracts the first message from a webhook POST body. It
// returns (nil, nil) — not an error — when the payload carries no message,
// e.g. a delivery-status callback, matching the original parser's
// "return None on anything unexpected" behavior.
func ParseWebhook(body []byte) (*InboundMessage, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("chatplatform: decode webhook: %w", err)
	}
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Changes) == 0 {
		return nil, nil
	}
	value := envelope.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil, nil
	}
	raw := value.Messages[0]

	msg := &InboundMessage{
		MessageID:     raw.ID,
		From:          raw.From,
		PhoneNumberID: value.Metadata.PhoneNumberID,
		Timestamp:     raw.Timestamp,
	}
	if len(value.Contacts) > 0 {
		msg.ContactName = value.Contacts[0].Profile.Name
	}

	switch {
	case raw.Text != nil:
		msg.Type = MessageTypeText
		msg.Text = raw.Text.Body
	case raw.Interactive != nil:
		msg.Type = MessageTypeInteractive
		if raw.Interactive.Type == "button_reply" {
			msg.ButtonID = raw.Interactive.ButtonReply.ID
			msg.ButtonTitle = raw.Interactive.ButtonReply.Title
			msg.Text = msg.ButtonTitle
		}
	case raw.Image != nil:
		msg.Type = MessageTypeImage
		msg.MediaID = raw.Image.ID
	default:
		return nil, nil
	}
	return msg, nil
}

// VerifyChallenge implements the GET subscription-verification handshake:
// returns the challenge string when mode is "subscribe" and token matches,
// or ("", false) otherwise.
func VerifyChallenge(mode, token, challenge, expectedToken string) (string, bool) {
	if mode == "subscribe" && token == expectedToken {
		return challenge, true
	}
	return "", false
}

type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []rawMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type rawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Image *struct {
		ID string `json:"id"`
	} `json:"image"`
}

// Button is one quick-reply option on an interactive send.
type Button struct {
	ID    string
	Title string
}

// Client sends outbound messages through the chat platform's Graph-style
// REST API, grounded on original_source/app/integrations/whatsapp/client.py.
type Client struct {
	baseURL     string
	bearerToken string
	http        *http.Client
	logger      *logging.Logger
}

// New builds a Client. baseURL should include the API version path, e.g.
// "https://graph.facebook.com/v18.0".
func New(baseURL, bearerToken string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{baseURL: baseURL, bearerToken: bearerToken, http: http.DefaultClient, logger: logger}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, text string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return c.send(ctx, phoneNumberID, payload)
}

// SendInteractive sends a text body with up to three quick-reply buttons.
func (c *Client) SendInteractive(ctx context.Context, phoneNumberID, to, bodyText string, buttons []Button) (string, error) {
	actionButtons := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		actionButtons = append(actionButtons, map[string]any{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": b.Title},
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]string{"text": bodyText},
			"action": map[string]any{
				"buttons": actionButtons,
			},
		},
	}
	return c.send(ctx, phoneNumberID, payload)
}

// SendTemplate sends a pre-approved template message, used outside the
// 24-hour customer-service window (e.g. day-of reminders).
func (c *Client) SendTemplate(ctx context.Context, phoneNumberID string, templatePayload map[string]any) (string, error) {
	payload := map[string]any{"messaging_product": "whatsapp", "type": "template"}
	for k, v := range templatePayload {
		payload[k] = v
	}
	return c.send(ctx, phoneNumberID, payload)
}

// RegisterPhoneNumber completes Cloud API registration for a newly
// onboarded phone number id.
func (c *Client) RegisterPhoneNumber(ctx context.Context, phoneNumberID, pin string) error {
	payload := map[string]any{"messaging_product": "whatsapp", "pin": pin}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chatplatform: marshal register payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/register", c.baseURL, phoneNumberID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chatplatform: build register request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.ExternalService("chatplatform", "register request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("chatplatform: registration failed", "status", resp.StatusCode, "body", string(respBody))
		return apperrors.ExternalService("chatplatform", fmt.Sprintf("registration failed: status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) send(ctx context.Context, phoneNumberID string, payload map[string]any) (string, error) {
	ctx, span := chatTracer.Start(ctx, "chatplatform.send")
	defer span.End()
	msgType, _ := payload["type"].(string)
	span.SetAttributes(
		attribute.String("chatplatform.phone_number_id", phoneNumberID),
		attribute.String("chatplatform.message_type", msgType),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chatplatform: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID), bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chatplatform: build send request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", apperrors.ExternalService("chatplatform", "send request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chatplatform: read send response: %w", err)
	}
	span.SetAttributes(attribute.Int("chatplatform.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("chatplatform: send failed", "status", resp.StatusCode, "body", string(respBody))
		err := apperrors.ExternalService("chatplatform", fmt.Sprintf("send failed: status %d", resp.StatusCode), nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chatplatform: decode send response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Content-Type", "application/json")
}

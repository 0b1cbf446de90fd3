package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLMClient struct {
	responses []LLMResponse
	calls     int
}

func (c *scriptedLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if c.calls >= len(c.responses) {
		return LLMResponse{}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func TestExtractName_ParsesFoundName(t *testing.T) {
	client := &scriptedLLMClient{responses: []LLMResponse{
		{Text: `{"name": "Maria", "found": true}`},
	}}
	extractor := NewLLMExtractor(client, "anthropic.claude-3-haiku-20240307-v1:0")

	name, ok, err := extractor.ExtractName(context.Background(), nil, "soy Maria")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Maria", name)
}

func TestExtractName_NotFoundReturnsFalse(t *testing.T) {
	client := &scriptedLLMClient{responses: []LLMResponse{
		{Text: "```json\n{\"name\": \"\", \"found\": false}\n```"},
	}}
	extractor := NewLLMExtractor(client, "anthropic.claude-3-haiku-20240307-v1:0")

	name, ok, err := extractor.ExtractName(context.Background(), nil, "hola")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestExtractIntent_ParsesCompleteIntent(t *testing.T) {
	client := &scriptedLLMClient{responses: []LLMResponse{
		{Text: `{"has_appointment_info": true, "name": "Maria", "reason": "consulta general", "datetime_iso": "2026-08-05T15:00:00", "raw_datetime": "el martes a las 3pm", "email": ""}`},
	}}
	extractor := NewLLMExtractor(client, "anthropic.claude-3-haiku-20240307-v1:0")

	intent, err := extractor.ExtractIntent(context.Background(), nil, "el martes a las 3pm", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.True(t, intent.HasAppointmentInfo)
	assert.Equal(t, "consulta general", intent.Reason)
	assert.Equal(t, "2026-08-05T15:00:00", intent.DateTimeISO)
}

func TestReply_ReturnsTrimmedText(t *testing.T) {
	client := &scriptedLLMClient{responses: []LLMResponse{
		{Text: "  Claro, con gusto te ayudo.  "},
	}}
	extractor := NewLLMExtractor(client, "anthropic.claude-3-haiku-20240307-v1:0")

	reply, err := extractor.Reply(context.Background(), []Message{{Role: "user", Content: "hola"}}, "system prompt")
	require.NoError(t, err)
	assert.Equal(t, "Claro, con gusto te ayudo.", reply)
}

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LLMExtractor is the concrete Extractor, grounded on LLMService's
// extractDepositIntent classifier shape (strict-JSON system prompt, markdown
// fence stripping, temperature 0) but retargeted from medspa deposit
// qualification onto appointment-booking name/intent extraction.
type LLMExtractor struct {
	client     LLMClient
	model      string
	maxHistory int
}

// NewLLMExtractor builds an Extractor backed by an LLMClient, typically a
// *BedrockLLMClient.
func NewLLMExtractor(client LLMClient, model string) *LLMExtractor {
	return &LLMExtractor{client: client, model: model, maxHistory: 12}
}

func (e *LLMExtractor) transcript(history []Message) string {
	h := history
	if e.maxHistory > 0 && len(h) > e.maxHistory {
		h = h[len(h)-e.maxHistory:]
	}
	var b strings.Builder
	for _, msg := range h {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func stripJSONFence(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			raw = raw[start : end+1]
		}
	}
	return raw
}

const nameExtractionPrompt = `You extract a patient's first name from a WhatsApp conversation with a medical office.

Return ONLY a JSON object, nothing else. No markdown, no code fences, no explanation.

Format: {"name": "Maria", "found": true}

Rules:
- Only set found=true if the patient stated their own name in this conversation (e.g. "soy Maria", "me llamo Juan", "mi nombre es Ana").
- Never infer a name from context clues that aren't an explicit self-introduction.
- found=false means the "name" field should be an empty string.`

// ExtractName runs an independent, cheap pass over the conversation looking
// for a self-introduced name, so a CRM contact can be created as soon as
// one surfaces rather than waiting for the full booking intent.
func (e *LLMExtractor) ExtractName(ctx context.Context, history []Message, latest string) (string, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := e.client.Complete(callCtx, LLMRequest{
		Model:  e.model,
		System: []string{nameExtractionPrompt},
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "Conversation so far:\n" + e.transcript(history) + "\nLatest message: " + latest},
		},
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		return "", false, fmt.Errorf("conversation: name extraction failed: %w", err)
	}

	var decision struct {
		Name  string `json:"name"`
		Found bool   `json:"found"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(resp.Text)), &decision); err != nil {
		return "", false, fmt.Errorf("conversation: name extraction parse: %w", err)
	}
	if !decision.Found || strings.TrimSpace(decision.Name) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(decision.Name), true, nil
}

const intentExtractionPromptTemplate = `You extract structured appointment-booking intent from a WhatsApp conversation with a medical office. Today is %s.

Return ONLY a JSON object, nothing else. No markdown, no code fences, no explanation.

Format:
{"has_appointment_info": true, "name": "Maria", "reason": "consulta general", "datetime_iso": "2026-08-05T15:00:00", "raw_datetime": "el martes a las 3pm", "email": ""}

Rules:
- has_appointment_info is true only when the patient has given BOTH a reason for the visit AND a specific day/time preference somewhere in the conversation.
- datetime_iso must be the patient's requested date and time resolved against today's date, in the medical office's local time, with no timezone suffix. Use the most recently stated preference if they changed their mind.
- raw_datetime is the patient's own words for the date/time they want.
- reason is the treatment or visit purpose in a few words, in the patient's language.
- email is the patient's email address if they provided one, else empty string.
- If has_appointment_info is false, datetime_iso and raw_datetime should be empty strings.`

// ExtractIntent runs the full structured-intent pass over the conversation.
// The engine calls it on every freeform turn and only moves on to slot
// resolution when the result has HasAppointmentInfo set.
func (e *LLMExtractor) ExtractIntent(ctx context.Context, history []Message, latest string, now time.Time) (*Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	systemPrompt := fmt.Sprintf(intentExtractionPromptTemplate, now.Format("2006-01-02"))
	resp, err := e.client.Complete(callCtx, LLMRequest{
		Model:  e.model,
		System: []string{systemPrompt},
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "Conversation so far:\n" + e.transcript(history) + "\nLatest message: " + latest},
		},
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: intent extraction failed: %w", err)
	}

	var decision struct {
		HasAppointmentInfo bool   `json:"has_appointment_info"`
		Name               string `json:"name"`
		Reason             string `json:"reason"`
		DateTimeISO        string `json:"datetime_iso"`
		RawDateTime        string `json:"raw_datetime"`
		Email              string `json:"email"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(resp.Text)), &decision); err != nil {
		return nil, fmt.Errorf("conversation: intent extraction parse: %w", err)
	}

	return &Intent{
		HasAppointmentInfo: decision.HasAppointmentInfo,
		Name:               strings.TrimSpace(decision.Name),
		Reason:             strings.TrimSpace(decision.Reason),
		DateTimeISO:        strings.TrimSpace(decision.DateTimeISO),
		RawDateTime:        strings.TrimSpace(decision.RawDateTime),
		Email:              strings.TrimSpace(decision.Email),
	}, nil
}

// Reply generates a freeform assistant response for turns that don't map to
// a structured booking step, e.g. answering a question about services.
func (e *LLMExtractor) Reply(ctx context.Context, history []Message, systemPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()

	messages := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		role := ChatRoleUser
		if msg.Role == "assistant" {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Content})
	}

	resp, err := e.client.Complete(callCtx, LLMRequest{
		Model:       e.model,
		System:      []string{systemPrompt},
		Messages:    messages,
		MaxTokens:   512,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: reply generation failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/model"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	maxClassifyLen = 8000
	maxExtractLen  = 12000
)

// OpenRouterClient talks to an OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewOpenRouter creates a client for the configured model and endpoint.
func NewOpenRouter(cfg model.LLMConfig, log *zap.Logger) *OpenRouterClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenRouterClient{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// --- chat completions API types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chat performs one completion round trip. When the server rejects JSON
// mode, the request is retried once without the response_format field.
func (c *OpenRouterClient) chat(ctx context.Context, system, user string, format *responseFormat) (string, error) {
	content, err := c.chatOnce(ctx, system, user, format)
	if err != nil && format != nil {
		c.log.Warn("json mode failed, retrying without response_format", zap.Error(err))
		content, err = c.chatOnce(ctx, system, user, nil)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *OpenRouterClient) chatOnce(ctx context.Context, system, user string, format *responseFormat) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: format,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling completion API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// stripMarkdownFence removes a surrounding ``` code fence, including an
// optional language tag on the opening line.
func stripMarkdownFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// chatJSON runs a completion expected to yield JSON and unmarshals into v.
// Malformed output goes through one repair round before giving up.
func (c *OpenRouterClient) chatJSON(ctx context.Context, system, user string, wantObject bool, v interface{}) error {
	var format *responseFormat
	if wantObject {
		format = &responseFormat{Type: "json_object"}
	}
	content, err := c.chat(ctx, system, user, format)
	if err != nil {
		return err
	}
	content = stripMarkdownFence(content)

	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	repaired, repairErr := c.repairJSON(ctx, content, wantObject)
	if repairErr != nil {
		return fmt.Errorf("model did not return JSON: %.500s", content)
	}
	repaired = stripMarkdownFence(repaired)
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("model did not return JSON after repair: %.500s", content)
	}
	return nil
}

// repairJSON asks the model to reformat its own malformed output.
func (c *OpenRouterClient) repairJSON(ctx context.Context, text string, wantObject bool) (string, error) {
	var system string
	if wantObject {
		system = "You are a strict JSON formatter. Convert the input to a JSON object only. " +
			"Do not include markdown or extra text."
	} else {
		system = "You are a strict JSON formatter. Convert the input to a JSON array only. " +
			"If the input says there are no items, return []."
	}
	user := "Input:\n" + text + "\n\nReturn only JSON."
	return c.chat(ctx, system, user, nil)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func metaJSON(meta model.EmailMeta) string {
	b, err := json.Marshal(map[string]interface{}{
		"message_id": meta.MessageID,
		"from":       meta.FromAddr,
		"to":         meta.ToAddr,
		"cc":         meta.CcAddr,
		"subject":    meta.Subject,
		"date":       meta.Date,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Classify asks the model for a category assignment over the closed label
// set. An out-of-set category or out-of-range confidence is an error; the
// pipeline treats failures as NeedsReview.
func (c *OpenRouterClient) Classify(ctx context.Context, meta model.EmailMeta, text string) (model.ClassificationResult, error) {
	system := "You classify emails into one of: " +
		"ToReply, Receipts, Newsletters, Notifications, " +
		"CalendarCreated, NoAction, NeedsReview. " +
		"Set contains_event_request=true when the email includes a meeting time " +
		"or an explicit deadline (e.g., 'by Friday', 'entro il 12/01'). " +
		"Return ONLY valid JSON matching the schema."
	user := fmt.Sprintf(
		"Email meta:\n%s\n\nEmail text:\n%s\n\nReturn JSON like:\n"+
			`{"category":"ToReply","confidence":0.0,"rationale":"string",`+
			`"tags":["string"],"reply_needed":false,"contains_event_request":false}`,
		metaJSON(meta), truncate(text, maxClassifyLen),
	)

	var result model.ClassificationResult
	if err := c.chatJSON(ctx, system, user, true, &result); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classifying message: %w", err)
	}
	if !model.ValidCategory(string(result.Category)) {
		return model.ClassificationResult{}, fmt.Errorf("classification returned unknown category %q", result.Category)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return model.ClassificationResult{}, fmt.Errorf("classification confidence %v out of range", result.Confidence)
	}
	return result, nil
}

// DraftReply composes a plain-text reply body in the detected language of
// the original message.
func (c *OpenRouterClient) DraftReply(ctx context.Context, meta model.EmailMeta, text string) (model.ReplyDraft, error) {
	language := DetectLanguage(text, meta.Subject)
	languageHint := "English"
	if language == "it" {
		languageHint = "Italian"
	}

	system := fmt.Sprintf(
		"You draft concise professional email replies in %s. "+
			"Never promise actions you cannot verify. "+
			"Return only the email body as plain text without JSON or markdown.",
		languageHint,
	)

	toAddr := meta.ReplyTo
	if toAddr == "" {
		toAddr = meta.FromAddr
	}

	var contextLines []string
	if meta.FromAddr != "" {
		contextLines = append(contextLines, "From: "+meta.FromAddr)
	}
	if meta.ToAddr != "" {
		contextLines = append(contextLines, "To: "+meta.ToAddr)
	}
	if meta.CcAddr != "" {
		contextLines = append(contextLines, "Cc: "+meta.CcAddr)
	}
	if meta.Date != "" {
		contextLines = append(contextLines, "Date: "+meta.Date)
	}
	if meta.InReplyTo != "" {
		contextLines = append(contextLines, "In-Reply-To: "+meta.InReplyTo)
	}
	if len(meta.References) > 0 {
		contextLines = append(contextLines, "References: "+strings.Join(meta.References, " "))
	}

	user := fmt.Sprintf(
		"Original email subject: %s\nOriginal sender: %s\nReply recipient: %s\n\n"+
			"Thread context:\n%s\n\nEmail text:\n%s\n\nReturn only the reply body text.",
		meta.Subject, meta.FromAddr, toAddr,
		strings.Join(contextLines, "\n"), truncate(text, maxClassifyLen),
	)

	body, err := c.chat(ctx, system, user, nil)
	if err != nil {
		return model.ReplyDraft{}, fmt.Errorf("drafting reply: %w", err)
	}
	if body == "" {
		body = fallbackReplyBody(language)
	}

	return model.ReplyDraft{
		ToAddr:     toAddr,
		Subject:    normalizeReplySubject(meta.Subject),
		Body:       body,
		InReplyTo:  meta.MessageID,
		References: normalizeReferences(meta.References, meta.MessageID),
	}, nil
}

// ExtractEvents asks the model for calendar event candidates. Candidates
// missing a summary or start are dropped; a single object is tolerated in
// place of a singleton array.
func (c *OpenRouterClient) ExtractEvents(ctx context.Context, meta model.EmailMeta, text string) ([]model.EventCandidate, error) {
	system := "Extract calendar events and deadline-based TODOs from emails. " +
		"Create events for meetings or explicit scheduling requests. " +
		"For tasks with a deadline (e.g., 'by Friday', 'entro il 12/01'), " +
		"create a short TODO event at the deadline time and prefix the summary with 'TODO:'. " +
		"If you see a video-call / meeting URL (e.g. meet.google.com, zoom.us, " +
		"teams.microsoft.com, webex), " +
		"put it in the 'location' field and also include it in 'evidence'. " +
		"Return ONLY valid JSON: an array of event candidates. " +
		"Do not invent dates or times; only extract if present."
	user := fmt.Sprintf(
		"Email meta:\n%s\n\nEmail text:\n%s\n\nReturn JSON like:\n"+
			`[{"summary":"string","start":"ISO or natural language datetime",`+
			`"end":"ISO or natural language datetime or null","duration_minutes":30,`+
			`"timezone":"IANA tz or null","location":"string or null",`+
			`"evidence":["short quote"]}]`,
		metaJSON(meta), truncate(text, maxExtractLen),
	)

	var raw json.RawMessage
	if err := c.chatJSON(ctx, system, user, false, &raw); err != nil {
		return nil, fmt.Errorf("extracting events: %w", err)
	}

	var candidates []model.EventCandidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		// Some models return a single object when they found exactly one event.
		var single model.EventCandidate
		if objErr := json.Unmarshal(raw, &single); objErr != nil || single.Summary == "" || single.Start == "" {
			return nil, fmt.Errorf("extracting events: model returned neither array nor event: %.500s", string(raw))
		}
		candidates = []model.EventCandidate{single}
	}

	valid := candidates[:0]
	for _, cand := range candidates {
		if cand.Summary == "" || cand.Start == "" {
			c.log.Info("skipping incomplete event candidate", zap.String("summary", cand.Summary))
			continue
		}
		valid = append(valid, cand)
	}
	return valid, nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	OpenAIAPIBaseURL = "https://api.openai.com/v1"
	MaxTokens        = 1000
	Temperature      = 0.0 // deterministic-leaning SQL generation
	EmbeddingModel   = "text-embedding-3-small"
	EmbeddingDim     = 1536
)

const systemPrompt = "You are a SQL expert. Convert the natural language request to a single " +
	"read-only SELECT (or WITH ... SELECT) statement. Return ONLY the SQL statement, " +
	"no explanations and no code fences."

// OpenAIClient implements the Client interface using the OpenAI chat completions API
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// OpenAI API request structures
type ChatRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI API response structures
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Error response structure
type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: OpenAIAPIBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// WithBaseURL overrides the API endpoint, for proxies and OpenAI-compatible
// servers. An empty value keeps the default.
func (c *OpenAIClient) WithBaseURL(baseURL string) *OpenAIClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// GenerateSQL sends a prompt to the model and returns an extracted SQL statement
func (c *OpenAIClient) GenerateSQL(ctx context.Context, prompt string) (*Response, error) {
	request := ChatRequest{
		Model:       c.model,
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	response, err := c.sendChatRequestWithRetry(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to OpenAI: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	text := response.Choices[0].Message.Content
	sql := ExtractSQL(text)
	if sql == "" {
		return nil, fmt.Errorf("model did not return an extractable SQL statement")
	}

	return &Response{
		SQL:         sql,
		Explanation: cleanExplanation(text, sql),
		Confidence:  calculateConfidence(text, sql),
	}, nil
}

// GetEmbedding returns an embedding vector for the text using the embeddings API
func (c *OpenAIClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model: EmbeddingModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(resp.StatusCode, respBody)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding response: %w", err)
	}
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("embeddings API returned no data")
	}

	return embResp.Data[0].Embedding, nil
}

// sendChatRequest handles the HTTP communication with the chat completions API
func (c *OpenAIClient) sendChatRequest(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(resp.StatusCode, body)
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(body, &chatResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &chatResponse, nil
}

var (
	sqlFenceRe   = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)\\s*```")
	sqlLabelRe   = regexp.MustCompile(`(?i)^sql\s*:?\s*`)
	selectLeadRe = regexp.MustCompile(`(?is)\b(select|with)\b.*`)
)

// ExtractSQL pulls a single SQL statement out of model output. It handles
// fenced code blocks, "SQL:" labels, and trailing prose after the statement's
// closing semicolon. Returns "" when no statement can be found.
func ExtractSQL(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if matches := sqlFenceRe.FindStringSubmatch(text); len(matches) > 1 {
		text = strings.TrimSpace(matches[1])
	}

	text = sqlLabelRe.ReplaceAllString(text, "")

	// Drop anything after the statement's final semicolon
	if idx := strings.LastIndex(text, ";"); idx >= 0 {
		text = text[:idx+1]
	}

	// Anchor on the first SELECT or WITH keyword
	if match := selectLeadRe.FindString(text); match != "" {
		return strings.TrimSpace(match)
	}

	return ""
}

// calculateConfidence estimates how confident we are in the response
func calculateConfidence(fullText, sql string) float64 {
	confidence := 0.5

	if sql != "" {
		confidence += 0.3
	}

	sqlKeywords := []string{"select ", "from ", "where ", "group by", "order by", "join "}
	lowered := strings.ToLower(fullText)
	for _, keyword := range sqlKeywords {
		if strings.Contains(lowered, keyword) {
			confidence += 0.05
		}
	}

	uncertaintyPhrases := []string{"not sure", "might be", "could be", "i think", "perhaps"}
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lowered, phrase) {
			confidence -= 0.1
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.0 {
		confidence = 0.0
	}

	return confidence
}

// cleanExplanation removes the SQL statement from the explanation to avoid duplication
func cleanExplanation(fullText, sql string) string {
	explanation := fullText

	if sql != "" {
		explanation = strings.ReplaceAll(explanation, sql, "")
	}

	explanation = sqlFenceRe.ReplaceAllString(explanation, "")
	explanation = regexp.MustCompile(`\n\s*\n`).ReplaceAllString(explanation, "\n")
	explanation = strings.TrimSpace(explanation)

	if len(explanation) < 10 {
		explanation = "SQL statement generated from the natural language request."
	}

	return explanation
}

// handleAPIError processes OpenAI API errors
func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	var errorResponse apiErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err != nil {
		return fmt.Errorf("API error %d: %s", statusCode, string(body))
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("invalid API key: %s", errorResponse.Error.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded: %s", errorResponse.Error.Message)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s", errorResponse.Error.Message)
	case http.StatusInternalServerError:
		return fmt.Errorf("OpenAI API internal error: %s", errorResponse.Error.Message)
	default:
		return fmt.Errorf("OpenAI API error %d: %s", statusCode, errorResponse.Error.Message)
	}
}

package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouter talks to the OpenRouter chat-completions API.
type OpenRouter struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewOpenRouter(apiKey, model string) *OpenRouter {
	return &OpenRouter{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultOpenRouterURL,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

const enrichPrompt = `You are a tech journalist writing for a %s-speaking audience with a basic grasp of AI and software.

Translate the title into %s, preserving technical terms, product names and company names as-is.
Then summarize the item in %s in at most %d characters. The summary must highlight what is announced or demonstrated and why it matters, mention concrete details, and stay informative in tone.

Format your response EXACTLY like this:
TITLE: <translated title>
SUMMARY: <summary>

Title: %s
Description: %s`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenRouter) Complete(ctx context.Context, req Request) (Response, error) {
	prompt := fmt.Sprintf(enrichPrompt,
		req.TargetLanguage, req.TargetLanguage, req.TargetLanguage, req.MaxChars,
		req.Title, req.Description)

	body, _ := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   200,
		Temperature: 0.7,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("openrouter API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, &statusError{code: resp.StatusCode, body: string(b)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Response{}, err
	}
	if len(cr.Choices) == 0 {
		return Response{}, errors.New("empty openrouter response")
	}

	return parseCompletion(cr.Choices[0].Message.Content), nil
}

// parseCompletion extracts the TITLE/SUMMARY lines. Models sometimes skip
// the format, in which case the whole text becomes the summary.
func parseCompletion(text string) Response {
	var r Response
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "TITLE:") {
			r.Title = strings.TrimSpace(strings.TrimPrefix(line, "TITLE:"))
		} else if strings.HasPrefix(line, "SUMMARY:") {
			r.Summary = strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:"))
		}
	}
	if r.Title == "" && r.Summary == "" {
		r.Summary = strings.TrimSpace(text)
	}
	return r
}

// statusError carries a non-2xx backend status for retry classification.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openrouter API %d: %s", e.code, e.body)
}

// Retryable classifies an enrichment error: timeouts, rate limits and
// server-side failures are worth another attempt; other client errors are
// permanent for this run.
func Retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Transport-level failures (connection refused, reset) are transient.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

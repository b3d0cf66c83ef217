// Package advisory asks an OpenAI-compatible chat-completions endpoint for a
// trading decision and validates the untrusted answer.
package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/risk"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client talks to the advisory model.
type Client struct {
	http         *resty.Client
	model        string
	temperature  float64
	maxTokens    int
	maxRetries   uint64
	limits       risk.Limits
	allowShort   bool
	instructions string
	validate     *validator.Validate
	logger       *zap.Logger
	newBackOff   func() backoff.BackOff
}

// NewClient creates a Client. An unreadable instruction file is logged and
// ignored.
func NewClient(cfg config.Advisory, limits risk.Limits, allowShort bool, logger *zap.Logger) *Client {
	logger = logger.Named("advisory")
	instructions, err := loadInstructions(cfg.InstructionFile)
	if err != nil {
		logger.Warn("Could not load instruction file", zap.String("path", cfg.InstructionFile), zap.Error(err))
	} else if instructions != "" {
		logger.Info("Loaded instruction file", zap.String("path", cfg.InstructionFile), zap.Int("bytes", len(instructions)))
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.ApiKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:         httpClient,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxRetries:   cfg.MaxRetries,
		limits:       limits,
		allowShort:   allowShort,
		instructions: instructions,
		validate:     validator.New(),
		logger:       logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Decide returns the model's validated decision for req. Errors carry
// CodeMalformedAdvisoryResponse when an answer arrived but failed validation
// and CodeAdvisoryUnavailable when no usable answer arrived.
func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to encode decision request: %w", err)
	}
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.buildSystemPrompt()},
			{Role: "user", Content: "Decide the next action for this market state:\n" + string(payload)},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var decision Decision
	attempt := 0
	operation := func() error {
		attempt++
		content, err := c.complete(ctx, body)
		if err != nil {
			return err
		}
		decision, err = c.parseDecision(content)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Advisory call failed, retrying...",
			zap.String("instrument", req.Instrument),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if apperrors.HasCode(err, apperrors.CodeMalformedAdvisoryResponse) {
			return Decision{}, err
		}
		return Decision{}, apperrors.Wrapf(apperrors.CodeAdvisoryUnavailable, err, "no advisory answer after %d attempts", attempt)
	}
	return decision, nil
}

// complete performs one chat-completions call and returns the message content.
// Client errors other than throttling are permanent.
func (c *Client) complete(ctx context.Context, body chatRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return "", fmt.Errorf("advisory endpoint returned %s", resp.Status())
	case resp.IsError():
		return "", backoff.Permanent(fmt.Errorf("advisory endpoint returned %s: %s", resp.Status(), truncate(resp.String(), 200)))
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", backoff.Permanent(apperrors.Wrap(apperrors.CodeMalformedAdvisoryResponse, "undecodable completion", err))
	}
	if len(out.Choices) == 0 {
		return "", backoff.Permanent(apperrors.New(apperrors.CodeMalformedAdvisoryResponse, "response has no choices"))
	}
	return out.Choices[0].Message.Content, nil
}

// rawDecision mirrors the expected answer. Pointers distinguish a missing
// field from a zero value.
type rawDecision struct {
	Action               *string  `json:"action" validate:"required,oneof=BUY SELL HOLD"`
	Confidence           *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Reasoning            *string  `json:"reasoning" validate:"required,min=1"`
	Methodology          string   `json:"methodology"`
	RecommendedTimeframe string   `json:"recommended_timeframe"`
	Timeframe            string   `json:"timeframe"`
}

// parseDecision strips markdown fences, decodes and validates the answer. A
// rejected answer is logged in full.
func (c *Client) parseDecision(content string) (Decision, error) {
	d, err := c.decodeDecision(content)
	if err != nil {
		c.logger.Warn("Malformed advisory answer", zap.String("raw", content), zap.Error(err))
	}
	return d, err
}

func (c *Client) decodeDecision(content string) (Decision, error) {
	var raw rawDecision
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		return Decision{}, apperrors.Wrapf(apperrors.CodeMalformedAdvisoryResponse, err, "answer is not a JSON object: %q", truncate(content, 120))
	}
	if raw.Action != nil {
		if a, ok := market.ParseAction(*raw.Action); ok {
			s := string(a)
			raw.Action = &s
		}
	}
	if raw.Reasoning != nil {
		r := strings.TrimSpace(*raw.Reasoning)
		raw.Reasoning = &r
	}
	if err := c.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Decision{}, apperrors.Wrapf(apperrors.CodeMalformedAdvisoryResponse, err, "field %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return Decision{}, apperrors.Wrap(apperrors.CodeMalformedAdvisoryResponse, "invalid answer", err)
	}

	tf := raw.RecommendedTimeframe
	if tf == "" {
		tf = raw.Timeframe
	}
	return Decision{
		Action:      market.Action(*raw.Action),
		Confidence:  *raw.Confidence,
		Reasoning:   *raw.Reasoning,
		Methodology: strings.TrimSpace(raw.Methodology),
		Timeframe:   strings.TrimSpace(tf),
	}, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

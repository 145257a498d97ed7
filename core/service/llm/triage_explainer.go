// Package llm produces an optional natural-language explanation for
// borderline verdicts. The call runs as retry inside a circuit breaker
// with a hard timeout; every failure path returns an empty explanation
// and the pipeline continues without one.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"triage_server/core/domain"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
	"triage_server/pkg/resilience"
)

const (
	// Explanations run only for borderline scores, where a heuristic
	// verdict benefits most from prose the reporter can act on.
	borderlineLow  = 4.0
	borderlineHigh = 6.0

	maxBodyChars  = 1500
	maxTokens     = 512
	maxIndicators = 8
)

// Config holds explainer tuning.
type Config struct {
	APIKey      string
	Model       string
	DemoMode    bool // explain every message regardless of score
	Timeout     time.Duration
	Retries     int
	ErrorRate   float64
	OpenTimeout time.Duration
}

// Explainer calls the model provider for borderline analyses.
type Explainer struct {
	client  anthropic.Client
	model   string
	cfg     Config
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// NewExplainer creates an explainer, or nil when no API key is set.
func NewExplainer(cfg Config) *Explainer {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5"
	}

	return &Explainer{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
		cfg:    cfg,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:        "llm",
			ErrorRate:   cfg.ErrorRate,
			OpenTimeout: cfg.OpenTimeout,
		}),
		retry: resilience.RetryConfig{Attempts: cfg.Retries},
	}
}

// Explain returns prose for the reporter, or "" when the score is not
// borderline, the breaker is open, or the call fails.
func (e *Explainer) Explain(ctx context.Context, msg *domain.EmailMessage, result *domain.AnalysisResult) string {
	if !e.cfg.DemoMode && (result.RiskScore < borderlineLow || result.RiskScore > borderlineHigh) {
		metrics.LLMExplanations.WithLabelValues("skipped").Inc()
		return ""
	}

	prompt := e.buildPrompt(msg, result)

	var text string
	err := e.breaker.ExecuteWithRetry(ctx, e.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		resp, err := e.client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(e.model),
			MaxTokens: maxTokens,
			System: []anthropic.TextBlockParam{{
				Text: "You explain phishing-triage verdicts to the employee who reported the email. " +
					"Two or three short sentences, plain language, no markup, no instructions to click anything.",
			}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Content) == 0 {
			return fmt.Errorf("empty response content")
		}

		var b strings.Builder
		for _, block := range resp.Content {
			if t, ok := block.AsAny().(anthropic.TextBlock); ok {
				b.WriteString(t.Text)
			}
		}
		if b.Len() == 0 {
			return fmt.Errorf("response carried no text content")
		}
		text = strings.TrimSpace(b.String())
		return nil
	})
	if err != nil {
		metrics.LLMExplanations.WithLabelValues("error").Inc()
		logger.WithError(err).Warn("llm: explanation failed")
		return ""
	}

	metrics.LLMExplanations.WithLabelValues("ok").Inc()
	return text
}

func (e *Explainer) buildPrompt(msg *domain.EmailMessage, result *domain.AnalysisResult) string {
	body := msg.Body
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A reported email scored %.1f/10 (%s).\n", result.RiskScore, result.Severity)
	fmt.Fprintf(&b, "Subject: %s\nSender: %s\n", msg.Subject, msg.Sender)
	b.WriteString("Signals found:\n")
	for i, ind := range result.Indicators {
		if i >= maxIndicators {
			break
		}
		fmt.Fprintf(&b, "- [%s/%s] %s\n", ind.Category, ind.Severity, ind.Description)
	}
	fmt.Fprintf(&b, "Body (truncated):\n%s\n\n", body)
	b.WriteString("Explain to the reporter why this email was rated this way and what they should do.")
	return b.String()
}

// BreakerState exposes the breaker state for the stats surface.
func (e *Explainer) BreakerState() string {
	return e.breaker.State()
}

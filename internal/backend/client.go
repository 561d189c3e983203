package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Options configures a Client
type Options struct {
	Endpoint           string
	APIKey             string
	Proxy              string
	InsecureSkipVerify bool
	Timeout            time.Duration

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Client sends chat completion requests to a single endpoint
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer

	duration     metric.Float64Histogram
	promptTokens metric.Int64Counter
	outputTokens metric.Int64Counter
	totalTokens  metric.Int64Counter
}

// NewClient creates a Client. The transport routes http and https through
// opts.Proxy when set.
func NewClient(opts Options) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("articlegen")
	}
	meter := opts.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("articlegen")
	}

	c := &Client{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		logger: logger,
		tracer: tracer,
	}

	var err error
	if c.duration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if c.promptTokens, err = meter.Int64Counter(
		"llm.usage.prompt_tokens",
		metric.WithDescription("LLM usage metric: prompt_tokens"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if c.outputTokens, err = meter.Int64Counter(
		"llm.usage.completion_tokens",
		metric.WithDescription("LLM usage metric: completion_tokens"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if c.totalTokens, err = meter.Int64Counter(
		"llm.usage.total_tokens",
		metric.WithDescription("LLM usage metric: total_tokens"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return c, nil
}

// Complete sends one non-streaming chat completion request
func (c *Client) Complete(ctx context.Context, chatReq ChatRequest) (Completion, error) {
	ctx, span := c.tracer.Start(ctx, "chat_completion",
		trace.WithAttributes(
			attribute.String("llm.model", chatReq.Model),
			attribute.Float64("llm.temperature", chatReq.Temperature),
		),
	)
	defer span.End()

	completion, err := c.do(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, err
	}

	span.SetAttributes(attribute.Int64("llm.usage.total_tokens", completion.TotalTokens))
	return completion, nil
}

func (c *Client) do(ctx context.Context, chatReq ChatRequest) (Completion, error) {
	start := time.Now()

	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int("http.response.status_code", resp.StatusCode)))

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("chat completion failed", "status", resp.StatusCode, "body", truncate(string(body), 512))
		return Completion{}, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	completion, err := parseCompletion(body)
	if err != nil {
		return Completion{}, err
	}

	c.promptTokens.Add(ctx, completion.PromptTokens)
	c.outputTokens.Add(ctx, completion.CompletionTokens)
	c.totalTokens.Add(ctx, completion.TotalTokens)

	c.logger.Info("chat completion done",
		"model", completion.Model,
		"total_tokens", completion.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return completion, nil
}

// parseCompletion extracts the first choice and usage from a response body
func parseCompletion(body []byte) (Completion, error) {
	if !gjson.ValidBytes(body) {
		return Completion{}, errors.New("failed to unmarshal response: invalid json")
	}

	res := gjson.ParseBytes(body)
	content := res.Get("choices.0.message.content")
	if !content.Exists() || content.String() == "" {
		return Completion{}, errors.New("empty response from chat completion endpoint")
	}

	return Completion{
		ID:               res.Get("id").String(),
		Model:            res.Get("model").String(),
		Content:          content.String(),
		FinishReason:     res.Get("choices.0.finish_reason").String(),
		PromptTokens:     res.Get("usage.prompt_tokens").Int(),
		CompletionTokens: res.Get("usage.completion_tokens").Int(),
		TotalTokens:      res.Get("usage.total_tokens").Int(),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

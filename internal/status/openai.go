package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/evidence"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

// OpenAIModel summarises bundles through an OpenAI-compatible chat
// completions endpoint. Client-level retries are disabled: the reporting
// service owns the attempt budget.
type OpenAIModel struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	last    InvocationMetrics
	hasLast bool
}

func NewOpenAIModel(opts Options, logger *slog.Logger) (*OpenAIModel, error) {
	if opts.APIKey == "" {
		return nil, gerrors.ConfigRequired("OPENAI_API_KEY")
	}
	if opts.Temperature < 0 || opts.Temperature > 2 {
		return nil, gerrors.ValidationFailed("OPENAI_TEMPERATURE", "must be within [0.0, 2.0]")
	}
	if opts.MaxTokens <= 0 {
		return nil, gerrors.ValidationFailed("OPENAI_MAX_TOKENS", "must be greater than zero")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.Endpoint))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIModel{
		client:      openai.NewClient(clientOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     timeout,
		logger:      logger.With(logfields.Component("status-openai")),
	}, nil
}

func (m *OpenAIModel) Name() string { return m.model }

func (m *OpenAIModel) SummarizeRepository(ctx context.Context, bundle *evidence.RepositoryEvidenceBundle) (*Result, error) {
	return m.summarize(ctx, repositoryPrompt(bundle))
}

func (m *OpenAIModel) SummarizeProject(ctx context.Context, bundle *evidence.ProjectEvidenceBundle) (*Result, error) {
	return m.summarize(ctx, projectPrompt(bundle))
}

// LastInvocationMetrics reports the cost of the most recent call.
func (m *OpenAIModel) LastInvocationMetrics() (InvocationMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

func (m *OpenAIModel) summarize(ctx context.Context, userPrompt string) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	completion, err := m.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(m.temperature),
		MaxTokens:   openai.Int(m.maxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	latency := time.Since(start)

	if err != nil {
		return nil, m.classifyError(err, latency)
	}

	m.recordMetrics(InvocationMetrics{
		LatencyMS:        latency.Milliseconds(),
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
	})

	if len(completion.Choices) == 0 {
		return nil, gerrors.ResponseShape("completion has no choices", nil)
	}
	result, err := parseModelResponse(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("model call completed",
		logfields.Model(m.model),
		slog.Int64("latency_ms", latency.Milliseconds()),
		slog.Int64("total_tokens", completion.Usage.TotalTokens),
	)
	return result, nil
}

func (m *OpenAIModel) recordMetrics(metrics InvocationMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = metrics
	m.hasLast = true
}

// classifyError maps transport failures onto the upstream taxonomy with a
// stable kind: rate_limited, timeout, or http_error.
func (m *OpenAIModel) classifyError(err error, latency time.Duration) error {
	// A timed-out call still consumed latency; record it for the metrics
	// side-channel even though no tokens were spent.
	m.recordMetrics(InvocationMetrics{LatencyMS: latency.Milliseconds()})

	if errors.Is(err, context.DeadlineExceeded) {
		return gerrors.TransientUpstream("chat completion", err).WithContext("kind", "timeout")
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return gerrors.TransientUpstream("chat completion", err).WithContext("kind", "rate_limited")
		case apiErr.StatusCode >= 500:
			return gerrors.TransientUpstream("chat completion", err).WithContext("kind", "http_error")
		default:
			return gerrors.PermanentUpstream("chat completion", err).WithContext("kind", "http_error")
		}
	}

	// Connection resets and DNS failures are worth another attempt.
	return gerrors.TransientUpstream("chat completion", err).WithContext("kind", "http_error")
}

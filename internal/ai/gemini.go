package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sampark/internal/config"
	"sampark/internal/services"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const sentimentPrompt = `You are a customer support assistant. Classify the sentiment of the customer message below.
Reply with JSON only, no prose, using exactly this shape:
{"sentiment": "POSITIVE|NEUTRAL|NEGATIVE", "confidence": <number between 0 and 1>, "reason": "<short reason>"}

Message:
%s`

var validSentiments = map[string]bool{
	"POSITIVE": true,
	"NEUTRAL":  true,
	"NEGATIVE": true,
}

// textGenerator is the slice of the genai model used here.
type textGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiSentiment classifies message sentiment with a Gemini model.
type GeminiSentiment struct {
	client  *genai.Client
	model   textGenerator
	timeout time.Duration
	logger  *logrus.Logger
}

var _ services.SentimentAnalyzer = (*GeminiSentiment)(nil)

// NewGeminiSentiment 创建 Gemini 情感分析客户端
func NewGeminiSentiment(ctx context.Context, cfg config.GeminiConfig, logger *logrus.Logger) (*GeminiSentiment, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("genai client init failed: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GeminiSentiment{client: client, model: model, timeout: timeout, logger: logger}, nil
}

// Analyze returns the sentiment of text. Unparseable model output falls back to NEUTRAL.
func (g *GeminiSentiment) Analyze(ctx context.Context, text string) (services.SentimentResult, error) {
	if strings.TrimSpace(text) == "" {
		return neutral("empty message"), nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(fmt.Sprintf(sentimentPrompt, text)))
	if err != nil {
		return services.SentimentResult{}, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return services.SentimentResult{}, errors.New("no content returned from AI")
	}
	part, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return services.SentimentResult{}, fmt.Errorf("response part is not text, received %T", resp.Candidates[0].Content.Parts[0])
	}

	res, err := parseSentiment(string(part))
	if err != nil {
		g.logger.Warnf("gemini: %v", err)
		return neutral("unparseable model output"), nil
	}
	return res, nil
}

// Close releases the underlying client.
func (g *GeminiSentiment) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func parseSentiment(raw string) (services.SentimentResult, error) {
	out := strings.TrimSpace(raw)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimSuffix(out, "```")
		out = strings.TrimSpace(out)
	}

	var res services.SentimentResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return services.SentimentResult{}, fmt.Errorf("failed to unmarshal AI response: %w, raw response was: %s", err, out)
	}
	res.Sentiment = strings.ToUpper(strings.TrimSpace(res.Sentiment))
	if !validSentiments[res.Sentiment] {
		return services.SentimentResult{}, fmt.Errorf("unknown sentiment %q", res.Sentiment)
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}

func neutral(reason string) services.SentimentResult {
	return services.SentimentResult{Sentiment: "NEUTRAL", Confidence: 0, Reason: reason}
}

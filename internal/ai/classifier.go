package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/logger"
)

// Classifier labels an inbound reply. Implementations must be safe for
// concurrent use.
type Classifier interface {
	Classify(ctx context.Context, replyText, originalSubject string) (domain.Classification, error)
}

// BedrockInvoker is the single bedrockruntime call the classifier needs.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClassifier labels replies with a Claude model on AWS Bedrock.
type BedrockClassifier struct {
	client  BedrockInvoker
	modelID string
}

func NewBedrockClassifier(client BedrockInvoker, modelID string) *BedrockClassifier {
	if modelID == "" {
		modelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	return &BedrockClassifier{client: client, modelID: modelID}
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

const classifierSystemPrompt = `You classify replies to outbound sales emails.
Labels: interested, objection, other, out_of_office, wrong_person, unsubscribe.
Respond with a JSON object {"label": "...", "confidence": 0.0-1.0, "summary": "one sentence"}
and nothing else.`

func (c *BedrockClassifier) Classify(ctx context.Context, replyText, originalSubject string) (domain.Classification, error) {
	prompt := fmt.Sprintf("Original subject: %s\n\nReply:\n%s", originalSubject, replyText)

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        256,
		System:           classifierSystemPrompt,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal classify request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("bedrock invoke: %w", err)
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return domain.Classification{}, fmt.Errorf("parse bedrock response: %w", err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	cls, err := parseClassification(text)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	return cls, nil
}

func parseClassification(text string) (domain.Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.Classification{}, fmt.Errorf("no JSON object in model output")
	}

	var raw struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Summary    string  `json:"summary"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return domain.Classification{}, err
	}

	label := domain.ReplyLabel(strings.ToLower(strings.TrimSpace(raw.Label)))
	switch label {
	case domain.LabelInterested, domain.LabelObjection, domain.LabelOther,
		domain.LabelOutOfOffice, domain.LabelWrongPerson, domain.LabelUnsubscribe,
		domain.LabelBounce:
	default:
		logger.Warn("unknown classifier label", "label", raw.Label)
		label = domain.LabelOther
	}

	return domain.Classification{Label: label, Confidence: raw.Confidence, Summary: raw.Summary}, nil
}

// KeywordClassifier is the model-free fallback: a handful of phrase
// checks that cover the unambiguous cases. Anything it cannot place
// lands in other, which still counts as a substantive reply.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var keywordRules = []struct {
	label   domain.ReplyLabel
	phrases []string
}{
	{domain.LabelUnsubscribe, []string{"unsubscribe", "remove me from", "take me off", "stop emailing"}},
	{domain.LabelOutOfOffice, []string{"out of office", "out of the office", "on vacation", "on annual leave", "automatic reply", "auto-reply"}},
	{domain.LabelWrongPerson, []string{"no longer with", "no longer works", "left the company", "wrong person", "not the right person"}},
	{domain.LabelObjection, []string{"not interested", "no thanks", "no budget", "already have a", "we use a competitor"}},
	{domain.LabelInterested, []string{"interested", "tell me more", "sounds good", "let's talk", "schedule a call", "send me pricing"}},
}

func (c *KeywordClassifier) Classify(_ context.Context, replyText, _ string) (domain.Classification, error) {
	lower := strings.ToLower(replyText)
	for _, rule := range keywordRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				return domain.Classification{
					Label:      rule.label,
					Confidence: 0.6,
					Summary:    fmt.Sprintf("matched phrase %q", phrase),
				}, nil
			}
		}
	}
	return domain.Classification{Label: domain.LabelOther, Confidence: 0.3}, nil
}

// Package ai holds the content-generation and reply-classification
// collaborators. Both are consumed through small interfaces so the
// workers stay testable with stubs.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/httpretry"
	"github.com/cadencehq/cadence/internal/pkg/logger"
)

// ErrGeneration is wrapped by every generator failure. A failed
// generation never leaves partial state behind: no pending email is
// created for the step.
var ErrGeneration = errors.New("content generation failed")

// Generator produces the subject/body draft for one step of one
// enrollment.
type Generator interface {
	Generate(ctx context.Context, step domain.SequenceStep, contact domain.ContactContext) (domain.Draft, error)
}

// TemplateGenerator renders the step's Liquid templates against the
// contact's merge fields. Parsed templates are cached per template text.
type TemplateGenerator struct {
	engine *liquid.Engine
	cache  sync.Map // template text -> *liquid.Template
}

func NewTemplateGenerator() *TemplateGenerator {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	return &TemplateGenerator{engine: engine}
}

func (g *TemplateGenerator) Generate(_ context.Context, step domain.SequenceStep, contact domain.ContactContext) (domain.Draft, error) {
	bindings := mergeFields(contact)

	subject, err := g.render(step.SubjectTemplate, bindings)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("%w: subject of step %d: %v", ErrGeneration, step.StepNumber, err)
	}
	body, err := g.render(step.BodyTemplate, bindings)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("%w: body of step %d: %v", ErrGeneration, step.StepNumber, err)
	}
	return domain.Draft{Subject: subject, Body: body}, nil
}

func (g *TemplateGenerator) render(text string, bindings map[string]interface{}) (string, error) {
	if cached, ok := g.cache.Load(text); ok {
		return cached.(*liquid.Template).RenderString(bindings)
	}
	tpl, err := g.engine.ParseString(text)
	if err != nil {
		return "", err
	}
	g.cache.Store(text, tpl)
	return tpl.RenderString(bindings)
}

func mergeFields(c domain.ContactContext) map[string]interface{} {
	b := map[string]interface{}{
		"email":      c.Email,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"company":    c.Company,
		"title":      c.Title,
	}
	for k, v := range c.Custom {
		if _, taken := b[k]; !taken {
			b[k] = v
		}
	}
	return b
}

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// AnthropicGenerator drafts personalized copy with the Anthropic
// Messages API, using the step templates as the writing brief. When the
// API call fails the step still goes out: the generator falls back to a
// plain template render.
type AnthropicGenerator struct {
	client   httpretry.HTTPDoer
	apiKey   string
	model    string
	fallback Generator
}

// NewAnthropicGenerator creates a generator. A nil client gets a
// retrying default.
func NewAnthropicGenerator(client httpretry.HTTPDoer, apiKey, model string) *AnthropicGenerator {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &AnthropicGenerator{
		client:   client,
		apiKey:   apiKey,
		model:    model,
		fallback: NewTemplateGenerator(),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

const generatorSystemPrompt = `You write concise, personalized outbound sales emails.
Given a subject template, a body template, and contact details, produce the
final email. Respond with a JSON object {"subject": "...", "body": "..."}
and nothing else.`

func (g *AnthropicGenerator) Generate(ctx context.Context, step domain.SequenceStep, contact domain.ContactContext) (domain.Draft, error) {
	draft, err := g.generate(ctx, step, contact)
	if err != nil && g.fallback != nil {
		logger.Warn("generation via API failed, falling back to template render",
			"step", step.StepNumber,
			"error", err.Error())
		return g.fallback.Generate(ctx, step, contact)
	}
	return draft, err
}

func (g *AnthropicGenerator) generate(ctx context.Context, step domain.SequenceStep, contact domain.ContactContext) (domain.Draft, error) {
	prompt := fmt.Sprintf(
		"Subject template:\n%s\n\nBody template:\n%s\n\nContact:\n%s",
		step.SubjectTemplate, step.BodyTemplate, contactBlock(contact))

	reqBody, err := json.Marshal(anthropicRequest{
		Model:     g.model,
		MaxTokens: 1024,
		System:    generatorSystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return domain.Draft{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(reqBody))
	if err != nil {
		return domain.Draft{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.Draft{}, fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Draft{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	draft, err := parseDraft(text)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return draft, nil
}

func contactBlock(c domain.ContactContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "email: %s\nfirst_name: %s\nlast_name: %s\ncompany: %s\ntitle: %s\n",
		c.Email, c.FirstName, c.LastName, c.Company, c.Title)
	for k, v := range c.Custom {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	return b.String()
}

// parseDraft pulls the JSON object out of the model's reply, tolerating
// prose or code fences around it.
func parseDraft(text string) (domain.Draft, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.Draft{}, fmt.Errorf("no JSON object in model output")
	}

	var d domain.Draft
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return domain.Draft{}, err
	}
	if d.Subject == "" || d.Body == "" {
		return domain.Draft{}, fmt.Errorf("model output missing subject or body")
	}
	return d, nil
}

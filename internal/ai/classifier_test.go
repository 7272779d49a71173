package ai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/cadencehq/cadence/internal/domain"
)

type stubInvoker struct {
	responseText string
	err          error
	gotModelID   string
}

func (s *stubInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	if params.ModelId != nil {
		s.gotModelID = *params.ModelId
	}
	body, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": s.responseText}},
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockClassifier(t *testing.T) {
	invoker := &stubInvoker{responseText: `{"label": "interested", "confidence": 0.92, "summary": "wants a demo"}`}
	c := NewBedrockClassifier(invoker, "test-model")

	cls, err := c.Classify(context.Background(), "Sounds great, can we set up a call?", "Quick question")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if cls.Label != domain.LabelInterested {
		t.Errorf("expected interested, got %s", cls.Label)
	}
	if cls.Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %f", cls.Confidence)
	}
	if invoker.gotModelID != "test-model" {
		t.Errorf("expected model id passed through, got %q", invoker.gotModelID)
	}
}

func TestBedrockClassifierUnknownLabel(t *testing.T) {
	invoker := &stubInvoker{responseText: `{"label": "enthusiastic", "confidence": 0.8}`}
	c := NewBedrockClassifier(invoker, "m")

	cls, err := c.Classify(context.Background(), "reply", "subject")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if cls.Label != domain.LabelOther {
		t.Errorf("expected unknown label normalized to other, got %s", cls.Label)
	}
}

func TestBedrockClassifierProseWrapped(t *testing.T) {
	invoker := &stubInvoker{responseText: "Here is the classification:\n{\"label\": \"unsubscribe\", \"confidence\": 0.99}"}
	c := NewBedrockClassifier(invoker, "m")

	cls, err := c.Classify(context.Background(), "remove me", "subject")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if cls.Label != domain.LabelUnsubscribe {
		t.Errorf("expected unsubscribe, got %s", cls.Label)
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		name  string
		reply string
		want  domain.ReplyLabel
	}{
		{"unsubscribe", "Please unsubscribe me from this list", domain.LabelUnsubscribe},
		{"out of office", "I am out of office until Monday", domain.LabelOutOfOffice},
		{"auto reply", "Automatic reply: traveling this week", domain.LabelOutOfOffice},
		{"wrong person", "Jordan is no longer with the company", domain.LabelWrongPerson},
		{"objection beats interested", "Thanks but we're not interested", domain.LabelObjection},
		{"interested", "Very interested, send me pricing", domain.LabelInterested},
		{"fallback", "Let me think about it", domain.LabelOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, err := c.Classify(context.Background(), tt.reply, "subject")
			if err != nil {
				t.Fatalf("classify failed: %v", err)
			}
			if cls.Label != tt.want {
				t.Errorf("got %s, want %s", cls.Label, tt.want)
			}
		})
	}
}

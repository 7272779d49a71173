package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/cadencehq/cadence/internal/domain"
)

type stubSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (s *stubSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-123")}, nil
}

func TestSend(t *testing.T) {
	stub := &stubSES{}
	c := NewClientWithAPI(stub)

	id, err := c.Send(context.Background(), domain.OutboundMessage{
		To:        "pat@acme.com",
		FromName:  "Sam Seller",
		FromEmail: "sam@cadence.io",
		Subject:   "Quick question",
		Body:      "Hi Pat",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if id != "msg-123" {
		t.Errorf("expected message id msg-123, got %q", id)
	}
	if got := *stub.input.FromEmailAddress; got != "Sam Seller <sam@cadence.io>" {
		t.Errorf("unexpected from address: %q", got)
	}
	if got := stub.input.Destination.ToAddresses[0]; got != "pat@acme.com" {
		t.Errorf("unexpected recipient: %q", got)
	}
}

func TestSendFailure(t *testing.T) {
	stub := &stubSES{err: errors.New("throttled")}
	c := NewClientWithAPI(stub)

	_, err := c.Send(context.Background(), domain.OutboundMessage{To: "pat@acme.com"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

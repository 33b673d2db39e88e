package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

type recordingChannel struct {
	keys []string
	msgs []amqp.Publishing
	err  error
}

func (c *recordingChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestEmitPublishesIntentToQueue(t *testing.T) {
	ch := &recordingChannel{}
	p := NewPublisher(ch, "email_queue", time.Second, "ops@example.com")

	intent := &domain.NotificationIntent{
		ID:          "intent-1",
		Recipient:   domain.Recipient{UserID: 3, Email: "approver@example.com"},
		ConditionID: "escalation_pending",
		Variables:   map[string]any{"pendingDays": 4},
	}
	if err := p.Emit(context.Background(), intent); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if len(ch.msgs) != 1 || ch.keys[0] != "email_queue" {
		t.Fatalf("expected one message on email_queue, got %v", ch.keys)
	}
	msg := ch.msgs[0]
	if msg.MessageId != "intent-1" || msg.Type != "escalation_pending" {
		t.Fatalf("unexpected message metadata: id=%s type=%s", msg.MessageId, msg.Type)
	}

	var decoded domain.MailMessage
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.To != "approver@example.com" || decoded.Type != "escalation_pending" {
		t.Fatalf("unexpected mail message: %+v", decoded)
	}
}

func TestConsistencyAlertGoesToOperator(t *testing.T) {
	ch := &recordingChannel{}
	p := NewPublisher(ch, "email_queue", time.Second, "ops@example.com")

	report := &domain.ConsistencyReport{
		Key:           domain.MonthKey{TeamID: 7, Year: 2025, Month: 11},
		CorrelationID: "corr-1",
		Drift:         []domain.FieldDrift{{Field: "status", Stored: "SUBMITTED", Expected: "APPROVED"}},
	}
	if err := p.PublishConsistencyAlert(context.Background(), report); err != nil {
		t.Fatalf("publish alert: %v", err)
	}

	var decoded domain.MailMessage
	if err := json.Unmarshal(ch.msgs[0].Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.To != "ops@example.com" || decoded.Type != domain.MailTypeConsistencyViolation {
		t.Fatalf("unexpected alert: %+v", decoded)
	}
}

func TestConsistencyAlertWithoutOperatorIsSkipped(t *testing.T) {
	ch := &recordingChannel{err: errors.New("should not publish")}
	p := NewPublisher(ch, "email_queue", time.Second, "")

	if err := p.PublishConsistencyAlert(context.Background(), &domain.ConsistencyReport{}); err != nil {
		t.Fatalf("expected alert to be skipped, got %v", err)
	}
}

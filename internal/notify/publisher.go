// Package notify hands notification intents and operator alerts to the mail
// queue. Delivery itself happens in the mail worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch            channel
	queue         string
	timeout       time.Duration
	operatorEmail string
}

func NewPublisher(ch channel, queue string, timeout time.Duration, operatorEmail string) *Publisher {
	return &Publisher{
		ch:            ch,
		queue:         queue,
		timeout:       timeout,
		operatorEmail: operatorEmail,
	}
}

func (p *Publisher) PublishMail(ctx context.Context, message *domain.MailMessage) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("邮件信息序列化失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.ch.PublishWithContext(
		ctx,
		"",
		p.queue,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    message.ID,
			Timestamp:    time.Now(),
			Type:         message.Type,
			Body:         body,
		},
	)
}

// Emit 把提醒调度器产生的通知意图放入邮件队列
func (p *Publisher) Emit(ctx context.Context, intent *domain.NotificationIntent) error {
	return p.PublishMail(ctx, &domain.MailMessage{
		ID:   intent.ID,
		Type: intent.ConditionID,
		To:   intent.Recipient.Email,
		Data: intent.Variables,
	})
}

// PublishConsistencyAlert 把状态漂移报告发送到运维邮箱，未配置运维邮箱时只记录日志
func (p *Publisher) PublishConsistencyAlert(ctx context.Context, report *domain.ConsistencyReport) error {
	if p.operatorEmail == "" {
		slog.Warn("未配置运维邮箱，跳过状态不一致告警", "correlation_id", report.CorrelationID)
		return nil
	}

	return p.PublishMail(ctx, &domain.MailMessage{
		ID:   report.CorrelationID,
		Type: domain.MailTypeConsistencyViolation,
		To:   p.operatorEmail,
		Data: domain.ConsistencyAlertMailData{
			Team:          report.Key.String(),
			CorrelationID: report.CorrelationID,
			Drift:         report.Drift,
			CheckedAt:     report.CheckedAt.Format(time.RFC3339),
		},
	})
}

// Package queue provides the SQS producer that dispatches security alerts to
// the operations pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"shutterdesk/internal/config"
	"shutterdesk/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertPublisher serializes security alerts and sends them to the configured
// SQS queue. The reputation guard treats publishing as fire-and-forget, so a
// send failure is reported back but never blocks enforcement.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertPublisher creates a new AlertPublisher. It reads the queue URL from
// the AWSConfig; an empty URL means alerting is disabled and publishes become
// no-ops.
func NewAlertPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{
		client:   client,
		queueURL: awsCfg.SecurityAlertQueue,
		logger:   logger,
	}
}

// PublishSecurityAlert assigns the alert an ID, stamps a missing OccurredAt,
// and sends it to the alert queue. The event type and severity ride along as
// message attributes so consumers can filter without parsing the body.
func (p *AlertPublisher) PublishSecurityAlert(ctx context.Context, alert types.SecurityAlert) error {
	if p.queueURL == "" {
		return nil
	}

	if alert.AlertID == "" {
		alert.AlertID = uuid.New().String()
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal SecurityAlert: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.EventType),
			},
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Severity),
			},
		},
	}

	if _, err = p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send SecurityAlert to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "security alert published",
		"queue_url", p.queueURL,
		"alert_id", alert.AlertID,
		"event_type", alert.EventType,
		"severity", alert.Severity,
		"ip", alert.IPAddress,
	)

	return nil
}

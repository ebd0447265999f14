// Package queue publishes finished bulk operation reports to Redis.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/config"
	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/types"
)

// MessageTypeOperationFinished tags report messages
const MessageTypeOperationFinished = "bulk_operation.finished"

// Message is the envelope pushed to the report list and channel
type Message struct {
	ID        string                     `json:"id"`
	Type      string                     `json:"type"`
	Operation types.OperationKind        `json:"operation"`
	Outcome   string                     `json:"outcome"`
	Timestamp time.Time                  `json:"timestamp"`
	Report    *types.BulkOperationReport `json:"report"`
}

// NewMessage wraps a report for publishing
func NewMessage(report *types.BulkOperationReport) *Message {
	return &Message{
		ID:        report.ID,
		Type:      MessageTypeOperationFinished,
		Operation: report.Operation,
		Outcome:   report.Outcome(),
		Timestamp: time.Now().UTC(),
		Report:    report,
	}
}

// ReportPublisher keeps a capped list of recent reports in Redis and announces
// each one on a pub/sub channel
type ReportPublisher struct {
	client     *redis.Client
	listKey    string
	channel    string
	maxReports int64
	logger     *logrus.Entry
}

// NewReportPublisher connects to Redis and verifies the connection
func NewReportPublisher(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) (*ReportPublisher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newReportPublisher(client, cfg, logger), nil
}

func newReportPublisher(client *redis.Client, cfg config.RedisConfig, logger *logrus.Logger) *ReportPublisher {
	maxReports := cfg.MaxReports
	if maxReports <= 0 {
		maxReports = 500
	}
	return &ReportPublisher{
		client:     client,
		listKey:    cfg.ListKey,
		channel:    cfg.Channel,
		maxReports: maxReports,
		logger:     logging.NewServiceLogger(logger, "publisher"),
	}
}

// Record pushes the report onto the capped list and publishes it
func (p *ReportPublisher) Record(ctx context.Context, report *types.BulkOperationReport) error {
	data, err := json.Marshal(NewMessage(report))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.listKey, data)
	pipe.LTrim(ctx, p.listKey, 0, p.maxReports-1)
	if p.channel != "" {
		pipe.Publish(ctx, p.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish report %s: %w", report.ID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"operation_id": report.ID,
		"outcome":      report.Outcome(),
	}).Debug("Report published")
	return nil
}

// Recent returns up to limit of the newest published reports
func (p *ReportPublisher) Recent(ctx context.Context, limit int64) ([]*Message, error) {
	if limit <= 0 || limit > p.maxReports {
		limit = p.maxReports
	}

	raw, err := p.client.LRange(ctx, p.listKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}

	messages := make([]*Message, 0, len(raw))
	for _, item := range raw {
		var message Message
		if err := json.Unmarshal([]byte(item), &message); err != nil {
			p.logger.WithError(err).Warn("Skipping malformed report message")
			continue
		}
		messages = append(messages, &message)
	}
	return messages, nil
}

// Length returns how many reports are retained
func (p *ReportPublisher) Length(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, p.listKey).Result()
}

// Health checks the Redis connection health
func (p *ReportPublisher) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *ReportPublisher) Close() error {
	return p.client.Close()
}

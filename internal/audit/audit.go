package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/queue"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
)

// Event records the outcome of one cross-tenant provisioning batch.
type Event struct {
	ID       string              `json:"id"`
	Time     time.Time           `json:"time"`
	Kind     domain.EntityKind   `json:"entity_kind"`
	Action   string              `json:"action"`
	SourceID string              `json:"source_id,omitempty"`
	Tenants  int                 `json:"tenants"`
	Summary  domain.BatchSummary `json:"summary"`
}

// Emitter publishes provisioning audit events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

type noopEmitter struct{}

func (noopEmitter) Emit(ctx context.Context, event Event) error {
	return nil
}

func (noopEmitter) Close() error {
	return nil
}

type kafkaEmitter struct {
	writer *kafka.Writer
}

// NewEmitter builds the configured emitter.  With auditing disabled, events
// are dropped without error.
func NewEmitter(cfg *config.Config) Emitter {
	if !cfg.AuditEnabled {
		return noopEmitter{}
	}

	writer := queue.StartProducer(&queue.ProducerConfig{
		Brokers:    cfg.KafkaBrokers,
		Topic:      cfg.KafkaAuditTopic,
		BatchSize:  cfg.KafkaAuditBatchSize,
		BatchBytes: cfg.KafkaAuditBatchBytes,
		SaslConfig: &queue.SaslConfig{
			SaslMechanism: cfg.KafkaSASLMechanism,
			SaslUsername:  cfg.KafkaUsername,
			SaslPassword:  cfg.KafkaPassword,
			KafkaCA:       cfg.KafkaCA,
		},
	})

	return &kafkaEmitter{writer: writer}
}

func (e *kafkaEmitter) Emit(ctx context.Context, event Event) error {

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Kind),
		Value: payload,
	})
	if err != nil {
		logger.LogError("Unable to publish provisioning audit event", err)
		return err
	}

	return nil
}

func (e *kafkaEmitter) Close() error {
	return e.writer.Close()
}

// NewEvent stamps a fresh event for one batch.
func NewEvent(kind domain.EntityKind, action string, sourceID string, tenants int, summary domain.BatchSummary) Event {
	return Event{
		ID:       uuid.New().String(),
		Time:     time.Now().UTC(),
		Kind:     kind,
		Action:   action,
		SourceID: sourceID,
		Tenants:  tenants,
		Summary:  summary,
	}
}

// Package workerqueue enqueues durable work for the external Worker
// Runner: persisting messages/titles, tombstoning deleted chats, storing
// post-processing metadata, and kicking off AI tasks (spec §4's "enqueues
// persistence... defensively" and the message table's "Persists via
// worker" entries). The core never blocks a websocket round trip on
// Postgres directly; it hands the job to Kafka and moves on.
//
// Grounded on chat_handler.go/chat_repository.go's kafka.Writer usage,
// generalized from one ad hoc "chat-events" topic to a typed job envelope
// with a stable job_type field per spec §4 operation.
package workerqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// JobType enumerates every job the Worker Runner consumes.
type JobType string

const (
	JobPersistMessage               JobType = "persist_message"
	JobPersistTitle                 JobType = "persist_title"
	JobTombstoneChat                JobType = "tombstone_chat"
	JobPersistPostProcessingMetadata JobType = "persist_post_processing_metadata"
	JobRunAITask                    JobType = "run_ai_task"
)

// Job is the envelope written to Kafka. Payload is job-type-specific and
// left as raw JSON so the producer never needs the Worker Runner's full
// job schema, only the shape it is emitting right now.
type Job struct {
	Type      JobType         `json:"job_type"`
	ChatID    string          `json:"chat_id"`
	UserID    string          `json:"user_id"`
	EnqueuedAt int64          `json:"enqueued_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Enqueuer is the surface internal/aidispatch and internal/handlers depend
// on, so tests can substitute a fake instead of a real kafka.Writer.
type Enqueuer interface {
	PersistMessage(ctx context.Context, userID, chatID string, payload PersistMessagePayload) error
	PersistTitle(ctx context.Context, userID, chatID string, payload PersistTitlePayload) error
	TombstoneChat(ctx context.Context, userID, chatID string) error
	PersistPostProcessingMetadata(ctx context.Context, userID, chatID string, payload PersistPostProcessingMetadataPayload) error
	RunAITask(ctx context.Context, userID, chatID string, payload RunAITaskPayload) error
}

// Producer enqueues jobs onto the worker topic.
type Producer struct {
	writer *kafka.Writer
}

var _ Enqueuer = (*Producer)(nil)

// NewProducer wraps an already-configured kafka.Writer (topic, brokers and
// balancer strategy are set once in cmd/server/main.go).
func NewProducer(writer *kafka.Writer) *Producer {
	return &Producer{writer: writer}
}

func (p *Producer) enqueue(ctx context.Context, jobType JobType, userID, chatID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	job := Job{
		Type:       jobType,
		ChatID:     chatID,
		UserID:     userID,
		EnqueuedAt: time.Now().Unix(),
		Payload:    raw,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(chatID),
		Value: body,
	}); err != nil {
		return fmt.Errorf("write %s job: %w", jobType, err)
	}
	return nil
}

// PersistMessagePayload carries everything the worker needs to durably
// store one message (spec §6's chat_message_added/ai_response_completed).
type PersistMessagePayload struct {
	MessageID         string `json:"message_id"`
	Role              string `json:"role"`
	EncryptedContent  string `json:"encrypted_content"`
	EncryptedSender   string `json:"encrypted_sender,omitempty"`
	CreatedAt         int64  `json:"created_at"`
	MessagesV         int64  `json:"messages_v"`
}

// PersistMessage enqueues durable storage of one message.
func (p *Producer) PersistMessage(ctx context.Context, userID, chatID string, payload PersistMessagePayload) error {
	return p.enqueue(ctx, JobPersistMessage, userID, chatID, payload)
}

// PersistTitlePayload carries a title update (spec §6 update_title).
type PersistTitlePayload struct {
	EncryptedTitle string `json:"encrypted_title"`
	TitleV         int64  `json:"title_v"`
}

// PersistTitle enqueues durable storage of a chat's new title.
func (p *Producer) PersistTitle(ctx context.Context, userID, chatID string, payload PersistTitlePayload) error {
	return p.enqueue(ctx, JobPersistTitle, userID, chatID, payload)
}

// TombstoneChat enqueues a soft-delete of a chat (spec §6 delete_chat).
func (p *Producer) TombstoneChat(ctx context.Context, userID, chatID string) error {
	return p.enqueue(ctx, JobTombstoneChat, userID, chatID, struct{}{})
}

// PersistPostProcessingMetadataPayload carries opaque post-processing
// metadata blobs (spec §6 update_post_processing_metadata).
type PersistPostProcessingMetadataPayload struct {
	MessageID                  string `json:"message_id"`
	EncryptedMetadata           string `json:"encrypted_metadata"`
}

// PersistPostProcessingMetadata enqueues storage of post-processing metadata.
func (p *Producer) PersistPostProcessingMetadata(ctx context.Context, userID, chatID string, payload PersistPostProcessingMetadataPayload) error {
	return p.enqueue(ctx, JobPersistPostProcessingMetadata, userID, chatID, payload)
}

// RunAITaskPayload starts an AI task on the worker side once the core has
// recorded it as the chat's single active task (spec §4.3/§4.4).
type RunAITaskPayload struct {
	TaskID        string   `json:"task_id"`
	MessageID     string   `json:"message_id"`
	MateID        string   `json:"mate_id,omitempty"`
	ActiveFocusID string   `json:"active_focus_id,omitempty"`
	IsIncognito   bool     `json:"is_incognito"`
	ResumedKeys   []string `json:"resumed_keys,omitempty"`
}

// RunAITask enqueues the job that actually invokes the AI model provider.
func (p *Producer) RunAITask(ctx context.Context, userID, chatID string, payload RunAITaskPayload) error {
	return p.enqueue(ctx, JobRunAITask, userID, chatID, payload)
}

// Package aidispatch implements the AI Dispatcher (spec §4.4): per-chat
// single-flight task scheduling, cancellation, the pending-permission
// suspend/resume contract, and draining the queue of turns that arrived
// while a task was already active.
//
// Grounded on chat_handler.go's generateAIResponse/processMessage
// (one-active-response-per-conversation shape), generalized from an
// in-process goroutine into a cache-backed reverse mapping so the single
// active task is authoritative across multiple core replicas, and on
// cache_chat_mixin.py's TTL'd active-task keys.
package aidispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openmates/sync-core/internal/cache"
	"github.com/openmates/sync-core/internal/domain"
	"github.com/openmates/sync-core/internal/metrics"
	"github.com/openmates/sync-core/internal/workerqueue"
)

// activeTaskTTL bounds how long a task may hold the single-flight slot;
// nothing refreshes it, so a crashed worker's slot expires naturally
// rather than wedging a chat forever.
const activeTaskTTL = 10 * time.Minute

// Service coordinates single-flight AI task admission for every chat.
type Service struct {
	cache    *cache.Cache
	enqueuer workerqueue.Enqueuer
	mx       *metrics.Registry
	logger   *logrus.Logger
}

// New constructs a Service.
func New(c *cache.Cache, enqueuer workerqueue.Enqueuer, mx *metrics.Registry, logger *logrus.Logger) *Service {
	return &Service{cache: c, enqueuer: enqueuer, mx: mx, logger: logger}
}

// StartTurn admits a new user turn for chatID. If no task is currently
// active it becomes the active task immediately (Idle → Active); if one
// is already active the turn is queued instead (Active → Active
// preempted, spec §4.4) and the caller must not start a worker job.
func (s *Service) StartTurn(ctx context.Context, userID, chatID, taskID string, payload workerqueue.RunAITaskPayload, turn cache.QueuedTurn) (started bool, err error) {
	acquired, err := s.cache.TryAcquireActiveTask(ctx, chatID, taskID, int64(activeTaskTTL.Seconds()))
	if err != nil {
		return false, fmt.Errorf("acquire active task: %w", err)
	}

	if !acquired {
		if err := s.cache.EnqueueTurn(ctx, chatID, turn); err != nil {
			return false, fmt.Errorf("enqueue turn: %w", err)
		}
		s.mx.AITasksQueued.Inc()
		return false, nil
	}

	if err := s.enqueuer.RunAITask(ctx, userID, chatID, payload); err != nil {
		_ = s.cache.ReleaseActiveTask(ctx, chatID, taskID)
		return false, fmt.Errorf("enqueue ai task: %w", err)
	}
	s.mx.AITasksActive.Inc()
	return true, nil
}

// Cancel resolves taskID back to its chat and clears the single-flight
// slot immediately. The worker's own cancellation (spec §4.4: "revokes
// the worker... worker publishes its final-chunk event with
// interrupted_by_revocation=true") is a separate out-of-band signal this
// package does not send; it only has authority over the cache-held
// scheduling state.
func (s *Service) Cancel(ctx context.Context, taskID string) (chatID string, err error) {
	chatID, ok, err := s.cache.GetChatForTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("resolve task to chat: %w", err)
	}
	if !ok {
		return "", domain.ErrChatNotFound
	}

	if err := s.cache.ReleaseActiveTask(ctx, chatID, taskID); err != nil {
		return "", fmt.Errorf("release active task: %w", err)
	}
	if err := s.cache.ClearQueue(ctx, chatID); err != nil {
		return "", fmt.Errorf("clear queue: %w", err)
	}

	s.mx.AITasksCancelled.Inc()
	s.mx.AITasksActive.Dec()
	return chatID, nil
}

// Complete handles Active → Completed (spec §4.4): it releases the
// single-flight slot and returns the next queued turn, if any, so the
// caller can immediately start it as the chat's new active task.
func (s *Service) Complete(ctx context.Context, chatID, taskID string) (*cache.QueuedTurn, error) {
	if err := s.cache.ReleaseActiveTask(ctx, chatID, taskID); err != nil {
		return nil, fmt.Errorf("release active task: %w", err)
	}
	s.mx.AITasksActive.Dec()

	next, err := s.cache.DequeueTurn(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("dequeue next turn: %w", err)
	}
	if next != nil {
		s.mx.AITasksQueued.Dec()
	}
	return next, nil
}

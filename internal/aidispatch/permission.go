package aidispatch

import (
	"context"
	"fmt"

	"github.com/openmates/sync-core/internal/domain"
	"github.com/openmates/sync-core/internal/workerqueue"
)

// Suspend records a pending-permission request (spec §4.4 Active →
// Suspended) so a later app_settings_memories_confirmed message can
// resume the task. It does not release the active-task slot: the task is
// still the chat's single active task, merely blocked on user input.
func (s *Service) Suspend(ctx context.Context, chatID string, req domain.PendingPermissionRequest) error {
	if err := s.cache.SetPendingAppSettingsMemoriesRequest(ctx, chatID, req); err != nil {
		return fmt.Errorf("record pending permission request: %w", err)
	}
	return nil
}

// PendingRequest returns the outstanding permission request for a chat, if any.
func (s *Service) PendingRequest(ctx context.Context, chatID string) (*domain.PendingPermissionRequest, error) {
	return s.cache.GetPendingAppSettingsMemoriesRequest(ctx, chatID)
}

// ConfirmedValue is one app-settings/memories item the user confirmed
// sharing, keyed the same way the request asked for it.
type ConfirmedValue struct {
	AppID   string
	ItemKey string
	Value   string
}

// Resume caches every confirmed value (re-encrypted under the vault key by
// the caller before this is invoked, spec §4.4), clears the pending
// request, and enqueues a continuation task. The continuation always
// carries IsAppSettingsMemoriesContinuation=true and the resumed key list
// so the preprocessor knows what is already staged (spec §4.4) and does
// not re-request it.
func (s *Service) Resume(ctx context.Context, userID, chatID string, confirmed []ConfirmedValue) error {
	req, err := s.PendingRequest(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load pending request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("aidispatch: no pending permission request for chat %s", chatID)
	}

	resumedKeys := make([]string, 0, len(confirmed))
	for _, v := range confirmed {
		if err := s.cache.SetAppSettingsMemory(ctx, chatID, v.AppID, v.ItemKey, v.Value); err != nil {
			return fmt.Errorf("cache confirmed value: %w", err)
		}
		resumedKeys = append(resumedKeys, v.AppID+":"+v.ItemKey)
	}

	if err := s.cache.DeletePendingAppSettingsMemoriesRequest(ctx, chatID); err != nil {
		return fmt.Errorf("clear pending request: %w", err)
	}

	payload := workerqueue.RunAITaskPayload{
		TaskID:        req.TaskID,
		MessageID:     req.MessageID,
		MateID:        req.MateID,
		ActiveFocusID: req.ActiveFocusID,
		IsIncognito:   req.IsIncognito,
		ResumedKeys:   resumedKeys,
	}
	if err := s.enqueuer.RunAITask(ctx, userID, chatID, payload); err != nil {
		return fmt.Errorf("enqueue continuation task: %w", err)
	}
	return nil
}

// Reject clears the pending request without resuming the task, used when
// the user declines to share the requested app-settings/memories.
func (s *Service) Reject(ctx context.Context, chatID string) error {
	if err := s.cache.DeletePendingAppSettingsMemoriesRequest(ctx, chatID); err != nil {
		return fmt.Errorf("clear pending request: %w", err)
	}

	taskID, active, err := s.cache.GetActiveTask(ctx, chatID)
	if err != nil {
		return fmt.Errorf("lookup active task: %w", err)
	}
	if !active {
		return nil
	}
	if err := s.cache.ReleaseActiveTask(ctx, chatID, taskID); err != nil {
		return fmt.Errorf("release active task: %w", err)
	}
	s.mx.AITasksActive.Dec()
	return nil
}

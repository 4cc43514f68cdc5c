package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openmates/sync-core/internal/cache"
)

// Phase names accepted by phased_sync_request (spec §4.3).
type Phase string

const (
	Phase1 Phase = "phase1"
	Phase2 Phase = "phase2"
	Phase3 Phase = "phase3"
	PhaseAll Phase = "all"
)

func userCacheEventsChannel(userID string) string {
	return "user_cache_events:" + userID
}

type phaseEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func (s *Service) publish(ctx context.Context, userID, event string, data interface{}) error {
	raw, err := json.Marshal(phaseEvent{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal phase event: %w", err)
	}
	return s.cache.Publish(ctx, userCacheEventsChannel(userID), raw)
}

// RunPhase runs the requested phase (or all three in order) and finishes
// with cache_primed once every requested phase has completed
// successfully, matching phased_sync_handler's sequencing.
func (s *Service) RunPhase(ctx context.Context, userID string, phase Phase) error {
	switch phase {
	case Phase1:
		if err := s.runPhase1(ctx, userID); err != nil {
			return err
		}
	case Phase2:
		if err := s.runPhase2(ctx, userID); err != nil {
			return err
		}
	case Phase3:
		if err := s.runPhase3(ctx, userID); err != nil {
			return err
		}
	case PhaseAll:
		if err := s.runPhase1(ctx, userID); err != nil {
			return err
		}
		if err := s.runPhase2(ctx, userID); err != nil {
			return err
		}
		if err := s.runPhase3(ctx, userID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("sync: unknown phase %q", phase)
	}

	return s.publish(ctx, userID, EventCachePrimed, nil)
}

// runPhase1 delivers the single most recently opened chat (spec §4.3
// "the one 'last opened' chat").
func (s *Service) runPhase1(ctx context.Context, userID string) error {
	entries, err := s.cache.GetChatIDsVersions(ctx, userID, Phase1ChatCount)
	if err != nil {
		return fmt.Errorf("phase 1: %w", err)
	}

	updates := s.gatherChatSummaries(ctx, userID, entries)
	return s.publish(ctx, userID, EventPhase1Ready, updates)
}

// runPhase2 delivers the last Phase2ChatCount updated chats (spec §4.3
// "last 10 updated chats (quick)"). Its completion event name is the
// subject of spec §9's Open Question 2; this implementation fires
// EventPhase2Ready20 per the event-bus listener table (spec §4.5), which
// is the name a client-facing listener actually expects.
func (s *Service) runPhase2(ctx context.Context, userID string) error {
	entries, err := s.cache.GetChatIDsVersions(ctx, userID, Phase2ChatCount)
	if err != nil {
		return fmt.Errorf("phase 2: %w", err)
	}

	updates := s.gatherChatSummaries(ctx, userID, entries)
	return s.publish(ctx, userID, EventPhase2Ready20, updates)
}

// runPhase3 delivers the last Phase3ChatCount updated chats plus messages
// for whichever of those are already in the AI hot set (spec §4.3 "last
// 100 updated chats (full), plus messages for the top-N chats that are in
// the AI hot set").
func (s *Service) runPhase3(ctx context.Context, userID string) error {
	entries, err := s.cache.GetChatIDsVersions(ctx, userID, Phase3ChatCount)
	if err != nil {
		return fmt.Errorf("phase 3: %w", err)
	}

	updates := s.gatherChatSummaries(ctx, userID, entries)
	for i := range updates {
		msgs, err := s.cache.GetAIMessages(ctx, userID, updates[i].ChatID)
		if err != nil {
			continue // hot-set membership is best-effort; absence is not an error
		}
		if len(msgs) > 0 {
			updates[i].Messages = msgs
		}
	}

	return s.publish(ctx, userID, "phase_3_last_100_chats_ready", updates)
}

func (s *Service) gatherChatSummaries(ctx context.Context, userID string, entries []cache.ChatIDsVersions) []ChatUpdate {
	updates := make([]ChatUpdate, 0, len(entries))
	for _, e := range entries {
		versions, err := s.cache.GetVersions(ctx, userID, e.ChatID)
		if err != nil || versions == nil {
			continue
		}
		listItem, err := s.cache.GetListItemData(ctx, userID, e.ChatID)
		if err != nil || listItem == nil {
			continue
		}
		title, err := s.decryptForTransport(e.ChatID, listItem.EncryptedTitle)
		if err != nil {
			s.logger.WithField("chat_id", e.ChatID).WithError(err).Warn("failed to decrypt title for phase summary")
			continue
		}
		mv, tv := versions.MessagesV, versions.TitleV
		updates = append(updates, ChatUpdate{
			ChatID:         e.ChatID,
			DecryptedTitle: &title,
			MessagesV:      &mv,
			TitleV:         &tv,
		})
	}
	return updates
}

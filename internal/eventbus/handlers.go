package eventbus

import (
	"context"
	"encoding/json"
)

// envelope is the common shape every worker-published event carries:
// an event-type discriminator plus a free-form data payload forwarded
// mostly verbatim (spec §4.5's "forward data and versions verbatim").
type envelope struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Versions json.RawMessage `json:"versions,omitempty"`
}

// outbound is what every listener ultimately sends to a device: an
// envelope the client's websocket message switch already knows how to
// route, so the core never needs a client-specific message catalogue.
type outbound struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	Versions json.RawMessage `json:"versions,omitempty"`
}

func mustMarshal(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// handleUserCacheEvent fans out phase_1/2/3_*_ready and cache_primed to
// every device, but routes send_app_settings_memories_request to a single
// active device (original_source's routes/websockets.py explicitly
// targets one device with get_connections_for_user()[0] for this event so
// a permission prompt does not appear redundantly everywhere at once).
func (b *Bus) handleUserCacheEvent(ctx context.Context, channel string, payload []byte) {
	userID := chatIDFromChannel(channel)

	var env envelope
	if !decodeOrLog(b.logger, "user_cache_events", payload, &env) {
		return
	}

	out := mustMarshal(outbound{Event: env.Event, Data: env.Data})
	if out == nil {
		return
	}

	if env.Event == "send_app_settings_memories_request" {
		b.conns.SendToFirstDevice(userID, out)
		return
	}
	b.conns.BroadcastToUser(userID, out, "")
}

// chatStreamChunk is the ai_message_chunk payload shape (spec §4.4):
// {chat_id, user_id_uuid, message_id, user_message_id, task_id,
// full_content_so_far, is_final_chunk, interrupted_by_*}.
type chatStreamChunk struct {
	ChatID             string `json:"chat_id"`
	UserIDUUID         string `json:"user_id_uuid,omitempty"`
	MessageID          string `json:"message_id"`
	UserMessageID      string `json:"user_message_id,omitempty"`
	TaskID             string `json:"task_id,omitempty"`
	FullContentSoFar   string `json:"full_content_so_far"`
	IsFinalChunk       bool   `json:"is_final_chunk"`
	InterruptedByRevocation bool `json:"interrupted_by_revocation,omitempty"`
}

// handleChatStreamEvent is the AI streaming bridge (spec §4.4): a device
// actively viewing the chunk's chat receives every token as
// ai_message_update; any other device only hears about it once, on the
// final chunk, as ai_background_response_completed + ai_typing_ended so
// its UI can settle without rendering intermediate tokens. The error
// sentinel is rewritten before either payload is built.
func (b *Bus) handleChatStreamEvent(ctx context.Context, channel string, payload []byte) {
	var chunk chatStreamChunk
	if !decodeOrLog(b.logger, "chat_stream", payload, &chunk) {
		return
	}
	chunk.FullContentSoFar = rewriteErrorSentinel(chunk.FullContentSoFar)

	// chat_stream channels are keyed by chat, so the recipient user comes
	// from the chunk itself rather than from the channel name.
	userID := chunk.UserIDUUID

	update := mustMarshal(outbound{Event: "ai_message_update", Data: mustMarshal(chunk)})
	backgroundCompleted := mustMarshal(outbound{Event: "ai_background_response_completed", Data: mustMarshal(chunk)})
	typingEnded := mustMarshal(outbound{Event: "ai_typing_ended", Data: mustMarshal(struct {
		ChatID string `json:"chat_id"`
	}{ChatID: chunk.ChatID})})

	b.conns.DeliverByActiveChat(userID, func(activeChat string) ([]byte, bool) {
		if activeChat == chunk.ChatID {
			return update, update != nil
		}
		if chunk.IsFinalChunk {
			// Two distinct events are expected by an inactive device;
			// send the completion first, the manager delivers both in
			// the order decide is consulted across its one call each.
			return backgroundCompleted, backgroundCompleted != nil
		}
		return nil, false
	})

	if chunk.IsFinalChunk {
		b.conns.DeliverByActiveChat(userID, func(activeChat string) ([]byte, bool) {
			if activeChat == chunk.ChatID {
				return nil, false
			}
			return typingEnded, typingEnded != nil
		})

		b.completeTask(ctx, chunk.ChatID, chunk.TaskID)
	}
}

// completeTask releases the chat's single-flight slot once its task's
// final chunk has been delivered (spec §4.4 Active → Completed). If
// another turn was queued behind it, Complete dequeues it here but does
// not restart it: the event bus only has the queued payload's cached
// form, not a full workerqueue.RunAITaskPayload, so restarting the turn
// is left to whichever handler owns the triggering websocket message.
func (b *Bus) completeTask(ctx context.Context, chatID, taskID string) {
	if b.dispatch == nil || taskID == "" {
		return
	}
	next, err := b.dispatch.Complete(ctx, chatID, taskID)
	if err != nil {
		b.logger.WithField("chat_id", chatID).WithField("task_id", taskID).WithError(err).
			Warn("failed to release active ai task after final chunk")
		return
	}
	if next == nil {
		return
	}
	b.logger.WithField("chat_id", chatID).Info("queued turn dequeued after ai task completion; a handler must restart it")
}

// handleTypingIndicatorEvent fans ai_processing_started_event,
// post_processing_completed and skill_execution_status out to every
// device of the user regardless of active chat (spec §4.5 "every device
// should render the indicator regardless of active chat").
func (b *Bus) handleTypingIndicatorEvent(ctx context.Context, channel string, payload []byte) {
	userID := chatIDFromChannel(channel)

	var env envelope
	if !decodeOrLog(b.logger, "ai_typing_indicator_events", payload, &env) {
		return
	}

	out := mustMarshal(outbound{Event: env.Event, Data: env.Data})
	if out == nil {
		return
	}
	b.conns.BroadcastToUser(userID, out, "")
}

// handleChatUpdateEvent forwards chat_title_updated_event and similar
// metadata-only updates, verbatim, to every device of the user.
func (b *Bus) handleChatUpdateEvent(ctx context.Context, channel string, payload []byte) {
	userID := chatIDFromChannel(channel)

	var env envelope
	if !decodeOrLog(b.logger, "chat_updates", payload, &env) {
		return
	}

	out := mustMarshal(outbound{Event: env.Event, Data: env.Data, Versions: env.Versions})
	if out == nil {
		return
	}
	b.conns.BroadcastToUser(userID, out, "")
}

// persistedMessage is the nested message shape inside ai_message_persisted
// (spec §4.5); only EncryptedContent is ever subject to the error-sentinel
// rewrite, since it is the only field that can carry the streamed text.
type persistedMessage struct {
	MessageID        string `json:"message_id"`
	Role             string `json:"role"`
	EncryptedContent string `json:"encrypted_content"`
	CreatedAt        int64  `json:"created_at"`
}

type aiMessagePersistedPayload struct {
	ChatID   string           `json:"chat_id"`
	Message  persistedMessage `json:"message"`
	Versions json.RawMessage  `json:"versions,omitempty"`
}

// handleAIMessagePersistedEvent rebroadcasts a durably-stored AI message
// as chat_message_added (spec §4.5), rewriting the error sentinel on the
// nested message text before it reaches any device.
func (b *Bus) handleAIMessagePersistedEvent(ctx context.Context, channel string, payload []byte) {
	userID := chatIDFromChannel(channel)

	var p aiMessagePersistedPayload
	if !decodeOrLog(b.logger, "ai_message_persisted", payload, &p) {
		return
	}
	p.Message.EncryptedContent = rewriteErrorSentinel(p.Message.EncryptedContent)

	out := mustMarshal(outbound{Event: "chat_message_added", Data: mustMarshal(p), Versions: p.Versions})
	if out == nil {
		return
	}
	b.conns.BroadcastToUser(userID, out, "")
}

// userUpdatePayload carries an arbitrary user-scoped event the client
// already knows how to interpret by its embedded event_for_client name
// (spec §4.5's catch-all channel).
type userUpdatePayload struct {
	EventForClient string          `json:"event_for_client"`
	Payload        json.RawMessage `json:"payload"`
}

// handleUserUpdateEvent forwards arbitrary user-scoped events verbatim.
func (b *Bus) handleUserUpdateEvent(ctx context.Context, channel string, payload []byte) {
	userID := chatIDFromChannel(channel)

	var p userUpdatePayload
	if !decodeOrLog(b.logger, "user_updates", payload, &p) {
		return
	}

	out := mustMarshal(outbound{Event: p.EventForClient, Data: p.Payload})
	if out == nil {
		return
	}
	b.conns.BroadcastToUser(userID, out, "")
}

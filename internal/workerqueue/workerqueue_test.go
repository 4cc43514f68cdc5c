package workerqueue

import (
	"encoding/json"
	"testing"
)

func TestJobEnvelopeRoundTrip(t *testing.T) {
	payload := PersistMessagePayload{
		MessageID:        "msg-1",
		Role:             "user",
		EncryptedContent: "ciphertext",
		CreatedAt:        1700000000,
		MessagesV:        3,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	job := Job{
		Type:       JobPersistMessage,
		ChatID:     "chat-1",
		UserID:     "user-1",
		EnqueuedAt: 1700000001,
		Payload:    raw,
	}

	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}

	var decoded Job
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if decoded.Type != JobPersistMessage || decoded.ChatID != "chat-1" {
		t.Fatalf("unexpected decoded job: %+v", decoded)
	}

	var decodedPayload PersistMessagePayload
	if err := json.Unmarshal(decoded.Payload, &decodedPayload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decodedPayload != payload {
		t.Fatalf("payload mismatch: got %+v, want %+v", decodedPayload, payload)
	}
}

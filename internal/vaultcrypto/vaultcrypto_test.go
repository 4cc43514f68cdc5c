package vaultcrypto

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	svc := New([]byte("test-master-secret-do-not-use-in-prod"))

	sealed, err := svc.Seal("chat-1", []byte("hello model"))
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}

	plaintext, err := svc.Open("chat-1", sealed)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if string(plaintext) != "hello model" {
		t.Fatalf("got %q, want %q", plaintext, "hello model")
	}
}

func TestOpenWrongChatFails(t *testing.T) {
	svc := New([]byte("test-master-secret-do-not-use-in-prod"))

	sealed, err := svc.Seal("chat-1", []byte("hello model"))
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}

	if _, err := svc.Open("chat-2", sealed); err != ErrOpenFailed {
		t.Fatalf("got err %v, want ErrOpenFailed", err)
	}
}

func TestOpenTruncatedBlobFails(t *testing.T) {
	svc := New([]byte("test-master-secret-do-not-use-in-prod"))
	if _, err := svc.Open("chat-1", []byte("short")); err != ErrOpenFailed {
		t.Fatalf("got err %v, want ErrOpenFailed", err)
	}
}

package records

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	in := chatCursor{timestamp: 1700000000, id: "chat-123"}
	encoded := encodeCursor(in)

	out, err := decodeCursor(encoded)
	if err != nil {
		t.Fatalf("decodeCursor returned error: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	out, err := decodeCursor("")
	if err != nil {
		t.Fatalf("decodeCursor(\"\") returned error: %v", err)
	}
	if out != (chatCursor{}) {
		t.Fatalf("expected zero cursor, got %+v", out)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	if _, err := decodeCursor("not-valid-base64!!"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

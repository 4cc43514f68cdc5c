package sync

import (
	"errors"
	"testing"
)

func TestInitialSyncRequestValidate(t *testing.T) {
	var req InitialSyncRequest
	if err := req.validate(); !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("expected ErrMissingRequiredField for nil chat_ids, got %v", err)
	}

	req.ChatIDs = []string{}
	if err := req.validate(); err != nil {
		t.Fatalf("expected empty-but-present chat_ids to validate, got %v", err)
	}
}

func TestEffectiveMessagesVMasksGap(t *testing.T) {
	cases := []struct {
		name         string
		versionsV    int64
		messageCount int
		want         int64
	}{
		{"versions ahead", 10, 3, 10},
		{"records caught up further than versions hash", 2, 7, 7},
		{"equal", 5, 5, 5},
	}
	for _, tc := range cases {
		effective := tc.versionsV
		if n := int64(tc.messageCount); n > effective {
			effective = n
		}
		if effective != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, effective, tc.want)
		}
	}
}

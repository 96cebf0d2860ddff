package broker

import (
	"testing"
	"time"
)

func TestStreamStaleDetection(t *testing.T) {
	s := &OrderStream{lastMsgTime: time.Now().Add(-staleAfter - time.Minute)}

	if got := s.sinceLastMessage(); got <= staleAfter {
		t.Errorf("sinceLastMessage = %v, want more than %v", got, staleAfter)
	}

	s.markMessage()
	if got := s.sinceLastMessage(); got > time.Second {
		t.Errorf("markMessage did not refresh the stamp: %v since last message", got)
	}
}

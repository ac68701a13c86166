package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TargetStatus
		to   TargetStatus
		want bool
	}{
		{name: "discovered to sent", from: StatusDiscovered, to: StatusConnectionSent, want: true},
		{name: "sent to accepted", from: StatusConnectionSent, to: StatusConnectionAccepted, want: true},
		{name: "accepted to message", from: StatusConnectionAccepted, to: StatusMessageSent, want: true},
		{name: "message to replied", from: StatusMessageSent, to: StatusMessageReplied, want: true},
		{name: "back to discovered", from: StatusConnectionSent, to: StatusDiscovered, want: false},
		{name: "replied back to sent", from: StatusMessageReplied, to: StatusMessageSent, want: false},
		{name: "same status", from: StatusConnectionAccepted, to: StatusConnectionAccepted, want: false},
		{name: "any to opted out", from: StatusMessageSent, to: StatusOptedOut, want: true},
		{name: "opted out is terminal", from: StatusOptedOut, to: StatusConnectionSent, want: false},
		{name: "opted out to opted out", from: StatusOptedOut, to: StatusOptedOut, want: false},
		{name: "unknown status", from: TargetStatus("lost"), to: StatusConnectionSent, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParseTargetStatus(t *testing.T) {
	status, err := ParseTargetStatus(" Connection_Sent ")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status != StatusConnectionSent {
		t.Fatalf("ожидали connection_sent, получили %s", status)
	}
	if _, err := ParseTargetStatus("pending"); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного статуса")
	}
}

func TestParseMessageType(t *testing.T) {
	mt, err := ParseMessageType("")
	if err != nil || mt != MessagePersonalized {
		t.Fatalf("ожидали personalized по умолчанию, получили %q (%v)", mt, err)
	}
	if _, err := ParseMessageType("spam"); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного типа")
	}
}

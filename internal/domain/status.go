package domain

import (
	"fmt"
	"strings"
)

// TargetStatus описывает этап воронки, на котором находится цель.
type TargetStatus string

const (
	StatusDiscovered         TargetStatus = "discovered"
	StatusConnectionSent     TargetStatus = "connection_sent"
	StatusConnectionAccepted TargetStatus = "connection_accepted"
	StatusMessageSent        TargetStatus = "message_sent"
	StatusMessageReplied     TargetStatus = "message_replied"
	StatusOptedOut           TargetStatus = "opted_out"
)

// порядок этапов воронки; opted_out вне цепочки.
var statusRank = map[TargetStatus]int{
	StatusDiscovered:         0,
	StatusConnectionSent:     1,
	StatusConnectionAccepted: 2,
	StatusMessageSent:        3,
	StatusMessageReplied:     4,
}

// Valid сообщает, относится ли значение к известным статусам.
func (s TargetStatus) Valid() bool {
	if s == StatusOptedOut {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal возвращает true для статусов, из которых нет переходов.
func (s TargetStatus) Terminal() bool {
	return s == StatusOptedOut
}

// ParseTargetStatus разбирает статус из строки.
func ParseTargetStatus(raw string) (TargetStatus, error) {
	status := TargetStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown target status %q", raw)
	}
	return status, nil
}

// CanTransition проверяет переход между статусами. Разрешены только движения
// вперёд по воронке и переход в opted_out из любого нетерминального статуса.
func CanTransition(from, to TargetStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusOptedOut {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// MessageType описывает вид личного сообщения.
type MessageType string

const (
	MessagePersonalized MessageType = "personalized"
	MessageFollowUp     MessageType = "follow_up"
	MessageThankYou     MessageType = "thank_you"
)

// Valid сообщает, относится ли значение к известным типам сообщений.
func (t MessageType) Valid() bool {
	switch t {
	case MessagePersonalized, MessageFollowUp, MessageThankYou:
		return true
	}
	return false
}

// ParseMessageType разбирает тип сообщения. Пустая строка трактуется как personalized.
func ParseMessageType(raw string) (MessageType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return MessagePersonalized, nil
	}
	mt := MessageType(trimmed)
	if !mt.Valid() {
		return "", fmt.Errorf("unknown message type %q", raw)
	}
	return mt, nil
}

// QuotaCounter указывает счётчик дневной квоты.
type QuotaCounter string

const (
	QuotaConnections  QuotaCounter = "connections_sent"
	QuotaMessages     QuotaCounter = "messages_sent"
	QuotaProfileViews QuotaCounter = "profile_views"
)

// Valid сообщает, относится ли значение к известным счётчикам.
func (c QuotaCounter) Valid() bool {
	switch c {
	case QuotaConnections, QuotaMessages, QuotaProfileViews:
		return true
	}
	return false
}

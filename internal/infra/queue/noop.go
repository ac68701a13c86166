package queue

import (
	"context"

	"outreach-orchestrator/internal/domain"
)

// Noop отбрасывает события, когда брокер не настроен.
type Noop struct{}

var _ domain.EventPublisher = Noop{}

func (Noop) Publish(context.Context, domain.OutreachEvent) error { return nil }

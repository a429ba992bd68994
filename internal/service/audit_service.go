package service

import (
	"context"

	"agent-console-be/internal/pkg/logger"
	"agent-console-be/pkg/events"
	pktNats "agent-console-be/pkg/nats"
)

type IAuditService interface {
	Start() error
}

// auditService consumes the run lifecycle stream and writes a structured
// audit trail. A durable consumer, so restarts do not lose events.
type auditService struct {
	subscriber *pktNats.Subscriber
	log        logger.ILogger
}

func NewAuditService(subscriber *pktNats.Subscriber, log logger.ILogger) IAuditService {
	return &auditService{
		subscriber: subscriber,
		log:        log,
	}
}

func (as *auditService) Start() error {
	return as.subscriber.Subscribe("events.>", "relay-audit", func(_ context.Context, event events.Event) error {
		as.log.Info("Audit", event.EventType(), event.Payload())
		return nil
	})
}

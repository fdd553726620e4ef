// Package events publishes entitlement audit events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/sirupsen/logrus"
)

const TypeEntitlementGranted = "entitlement.granted"

// EntitlementGranted is emitted once per applied completion and once per override redemption.
type EntitlementGranted struct {
	Type          string            `json:"type"`
	ReportID      string            `json:"reportId"`
	PaymentID     string            `json:"paymentId,omitempty"`
	Provenance    models.Provenance `json:"provenance"`
	CorrelationID string            `json:"correlationId,omitempty"`
	ClientIP      string            `json:"clientIp,omitempty"`
	GrantedAt     time.Time         `json:"grantedAt"`
}

type Publisher interface {
	Publish(ctx context.Context, ev EntitlementGranted) error
}

// LogPublisher writes events to the structured log only.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev EntitlementGranted) error {
	ev.Type = TypeEntitlementGranted
	p.logger.WithFields(logrus.Fields{
		"event":         ev.Type,
		"reportId":      ev.ReportID,
		"paymentId":     ev.PaymentID,
		"provenance":    ev.Provenance,
		"correlationId": ev.CorrelationID,
	}).Info("entitlement granted")
	return nil
}

// PubSubPublisher publishes JSON events to a topic and waits for the server ack.
type PubSubPublisher struct {
	topic  *pubsub.Topic
	logger *logrus.Logger
}

func NewPubSubPublisher(topic *pubsub.Topic, logger *logrus.Logger) *PubSubPublisher {
	return &PubSubPublisher{topic: topic, logger: logger}
}

func (p *PubSubPublisher) Publish(ctx context.Context, ev EntitlementGranted) error {
	ev.Type = TypeEntitlementGranted
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":       ev.Type,
			"provenance": string(ev.Provenance),
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{"messageId": id, "reportId": ev.ReportID}).Debug("entitlement event published")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []EntitlementGranted
}

func (r *Recorder) Publish(_ context.Context, ev EntitlementGranted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.Type = TypeEntitlementGranted
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []EntitlementGranted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntitlementGranted, len(r.events))
	copy(out, r.events)
	return out
}

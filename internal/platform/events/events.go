// Package events publishes record lifecycle notifications (assessment saved,
// finalized or deleted) to a message broker. Publishing is fire-and-forget:
// a broker outage is logged and counted, never returned to the caller that
// saved the record.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anesth/preop/internal/platform/metrics"
)

const (
	AssessmentSaved     = "assessment.saved"
	AssessmentFinalized = "assessment.finalized"
	AssessmentDeleted   = "assessment.deleted"
	ChecklistSaved      = "checklist.saved"
	ChecklistDeleted    = "checklist.deleted"
	DocumentSaved       = "document.saved"
	DocumentDeleted     = "document.deleted"
)

type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Subject    string                 `json:"subject"`
	PatientID  string                 `json:"patient_id,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// New stamps an event with an id and the current time.
func New(eventType, subject, patientID, actor string, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		PatientID:  patientID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                        { return nil }

// Emitter sends events in the background with a bounded timeout.
type Emitter struct {
	pub     Publisher
	logger  zerolog.Logger
	metrics *metrics.Registry
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewEmitter(pub Publisher, logger zerolog.Logger, m *metrics.Registry) *Emitter {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Emitter{pub: pub, logger: logger, metrics: m, timeout: 5 * time.Second}
}

// Emit returns immediately. A nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) {
	if e == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		err := e.pub.Publish(ctx, evt)
		e.metrics.EventPublished(evt.Type, err == nil)
		if err != nil {
			e.logger.Error().Err(err).
				Str("event_type", evt.Type).
				Str("subject", evt.Subject).
				Msg("event publish failed")
		}
	}()
}

// Close waits for in-flight publishes, bounded by ctx, then closes the
// publisher.
func (e *Emitter) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn().Msg("event emitter closed with publishes in flight")
	}
	return e.pub.Close()
}

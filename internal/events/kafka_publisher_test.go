package events

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordination/internal/models"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { c.closed = true; return nil }

func TestPublishKeysByRide(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisherWithWriter(w)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := models.LifecycleEvent{Kind: models.EventRideStatusUpdated, RideID: "ride1", From: models.StatusPending, To: models.StatusAccepted, ActorID: "driver1", At: at}

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "ride1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	got, err := Decode(w.msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.To != models.StatusAccepted || got.From != models.StatusPending || !got.At.Equal(at) {
		t.Fatalf("unexpected event %+v", got)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v closed=%v", err, w.closed)
	}
}

func TestNilPublisherClose(t *testing.T) {
	var p *KafkaPublisher
	if err := p.Close(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

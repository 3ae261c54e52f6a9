package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/spot-finder/internal/models"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	c.msgs = append(c.msgs, msgs...)
	return c.err
}

func (c *captureWriter) Close() error { return nil }

func TestPublishKeysBySpot(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaProducer{writer: w}
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ev := models.SpotEvent{Kind: models.SpotReported, SpotID: "s1", Latitude: 40, Longitude: -74, Status: models.SpotAvailable, At: at}

	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "s1" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var got models.SpotEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.At.Equal(ev.At) {
		t.Fatalf("at = %v, want %v", got.At, ev.At)
	}
	got.At = ev.At
	if got != ev {
		t.Fatalf("got %+v, want %+v", got, ev)
	}
}

func TestPublishFailureIsUpstream(t *testing.T) {
	p := &KafkaProducer{writer: &captureWriter{err: errors.New("leader not available")}}
	err := p.Publish(context.Background(), models.SpotEvent{SpotID: "s1"})
	if !errors.Is(err, models.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

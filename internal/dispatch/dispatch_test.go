package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/spot-finder/internal/logging"
	"github.com/example/spot-finder/internal/models"
)

func rewardNotice(userID string) models.Notification {
	return models.Notification{
		ID:        "n1",
		UserID:    userID,
		Title:     "You Earned Points!",
		Message:   "You earned 50 points: report",
		Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Payload:   models.RewardEarnedPayload{PointsEarned: 50, Description: "report"},
	}
}

type stubDeliverer struct {
	err   error
	calls int
}

func (s *stubDeliverer) Deliver(ctx context.Context, n models.Notification) error {
	s.calls++
	return s.err
}

func TestFanoutIgnoresMissingSockets(t *testing.T) {
	ws := &stubDeliverer{err: ErrNoSession}
	push := &stubDeliverer{}
	if err := (Fanout{ws, push}).Deliver(context.Background(), rewardNotice("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.calls != 1 || push.calls != 1 {
		t.Fatalf("expected every channel to be tried")
	}
}

func TestFanoutJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	err := (Fanout{&stubDeliverer{err: boom}, &stubDeliverer{}}).Deliver(context.Background(), rewardNotice("u1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestHTTPPushPostsToUserTopic(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPush(srv.URL, "k1")
	if err := p.Deliver(context.Background(), rewardNotice("u7")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["message"]["topic"] != "user-u7" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestHTTPPushReportsProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewHTTPPush(srv.URL, "").Deliver(context.Background(), rewardNotice("u1")); err == nil {
		t.Fatalf("expected error on 502")
	}
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPPublisherRoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "notifications"}

	if err := p.Deliver(context.Background(), rewardNotice("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.exchange != "notifications" || ch.key != "notification.reward_earned" {
		t.Fatalf("unexpected routing: %s %s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.MessageId != "n1" {
		t.Fatalf("unexpected publishing: %+v", ch.msg)
	}
	var decoded models.Notification
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil {
		t.Fatalf("body is not a notification: %v", err)
	}
	if p, ok := decoded.Payload.(models.RewardEarnedPayload); !ok || p.PointsEarned != 50 {
		t.Fatalf("unexpected payload: %#v", decoded.Payload)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWSRegistryDeliversToConnectedUser(t *testing.T) {
	reg := NewWSRegistry(logging.Discard())
	added := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add("u1", conn)
		close(added)
	}))
	defer srv.Close()

	if err := reg.Deliver(context.Background(), rewardNotice("u1")); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before connect, got %v", err)
	}

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	<-added

	if reg.Connected("u1") != 1 {
		t.Fatalf("expected one session")
	}
	if err := reg.Deliver(context.Background(), rewardNotice("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n models.Notification
	if err := client.ReadJSON(&n); err != nil {
		t.Fatal(err)
	}
	if n.Title != "You Earned Points!" || n.Type() != models.NotifyRewardEarned {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubReconnectAndOrdering(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	channel := LectureChannel(uuid.New())

	clientA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, channel)

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventSlideReady, Data: map[string]any{"seq": 1}})
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventSlideFailed, Data: map[string]any{"seq": 2}})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventSlideReady {
		t.Fatalf("first event: want=%s got=%s", SSEEventSlideReady, got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventSlideFailed {
		t.Fatalf("second event: want=%s got=%s", SSEEventSlideFailed, got.Event)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	select {
	case _, ok := <-clientA.Outbound:
		if ok {
			t.Fatalf("clientA outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for clientA channel close")
	}

	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientB, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventLectureTitled})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != SSEEventLectureTitled {
		t.Fatalf("reconnect event: want=%s got=%s", SSEEventLectureTitled, got.Event)
	}
}

func TestSSEHubUnsubscribe(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	channel := LectureChannel(uuid.New())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)
	hub.RemoveChannel(client, channel)

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventSlideReady})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected message after unsubscribe: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHubServeHTTPWritesMessages(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	channel := LectureChannel(uuid.New())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sse/stream", nil)
	done := make(chan struct{})
	go func() {
		hub.ServeHTTP(rec, req, client)
		close(done)
	}()

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventSlideReady, Data: map[string]any{"slide_number": 2}})
	time.Sleep(50 * time.Millisecond)
	hub.CloseClient(client)
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: message") || !strings.Contains(body, `"event":"slide.ready"`) {
		t.Fatalf("unexpected body %q", body)
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, SSEMessage) error {
	p.calls++
	return errors.New("redis down")
}

func TestEmitterFallsBackToLocalHub(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	lectureID := uuid.New()
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, LectureChannel(lectureID))

	pub := &failingPublisher{}
	e := NewEmitter(logger.Nop(), hub, pub)
	e.SlideReady(context.Background(), &types.Slide{ID: uuid.New(), LectureID: lectureID, SlideNumber: 3})

	got := recvMessage(t, client.Outbound, time.Second)
	if got.Event != SSEEventSlideReady || pub.calls != 1 {
		t.Fatalf("event=%s publisher calls=%d", got.Event, pub.calls)
	}

	e.JobFailed(&types.JobRun{JobKey: "k", EntityID: &lectureID}, "boom")
	if got := recvMessage(t, client.Outbound, time.Second); got.Event != SSEEventJobFailed {
		t.Fatalf("event=%s want %s", got.Event, SSEEventJobFailed)
	}
}

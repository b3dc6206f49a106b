package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
)

type collectingSink struct {
	events []domain.SecurityEvent
	err    error
}

func (s *collectingSink) Record(_ context.Context, event domain.SecurityEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	first := &collectingSink{}
	second := &collectingSink{}
	fanout := NewFanout(first, nil, second)

	event := domain.LoginFailedEvent{Identifier: "a***@example.com", At: time.Now().UTC()}
	if err := fanout.Record(context.Background(), event); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both sinks to receive the event, got %d and %d", len(first.events), len(second.events))
	}
}

func TestFanoutKeepsGoingPastFailingSink(t *testing.T) {
	broken := &collectingSink{err: errors.New("kafka down")}
	healthy := &collectingSink{}
	fanout := NewFanout(broken, healthy)

	event := domain.TokenReuseDetectedEvent{UserID: "user-1", At: time.Now().UTC()}
	err := fanout.Record(context.Background(), event)
	if err == nil {
		t.Fatal("expected the sink failure to surface")
	}
	if len(healthy.events) != 1 {
		t.Fatal("a failing sink must not starve the others")
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	sink := NewLogSink(zap.NewNop())

	events := []domain.SecurityEvent{
		domain.LoginFailedEvent{Identifier: "a***@example.com", At: time.Now().UTC()},
		domain.AccountLockedEvent{Identifier: "a***@example.com", At: time.Now().UTC()},
		domain.TokenReuseDetectedEvent{UserID: "user-1", At: time.Now().UTC()},
		domain.RateLimitBackendErrorEvent{Key: "login:client", At: time.Now().UTC()},
	}

	for _, event := range events {
		if err := sink.Record(context.Background(), event); err != nil {
			t.Fatalf("Record(%s) returned error: %v", event.Kind(), err)
		}
	}
}

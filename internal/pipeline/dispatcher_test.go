package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/agentstream/internal/core/domain"
)

func TestDispatcher_NoHandlerIsNoop(t *testing.T) {
	d := NewDispatcher()
	for _, ev := range []domain.Event{
		domain.NewAgentChanged(fixedTime, "a"),
		domain.NewMessageDelta(fixedTime, "x"),
		domain.NewNewMessage(fixedTime, "hi", nil, "a"),
		nil,
	} {
		if err := d.Dispatch(context.Background(), ev); err != nil {
			t.Errorf("Dispatch(%v) = %v, want nil", ev, err)
		}
	}
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	d := NewDispatcher()

	var got []domain.EventName
	record := func(_ context.Context, ev domain.Event) error {
		got = append(got, ev.EventName())
		return nil
	}
	if err := d.Register(domain.EventNewMessage, record); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register(domain.EventAgentChanged, record); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	_ = d.Dispatch(ctx, domain.NewMessageDelta(fixedTime, "x"))
	_ = d.Dispatch(ctx, domain.NewNewMessage(fixedTime, "hi", nil, "a"))
	_ = d.Dispatch(ctx, domain.NewAgentChanged(fixedTime, "a"))

	want := []domain.EventName{domain.EventNewMessage, domain.EventAgentChanged}
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handled[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatcher_RegisterRules(t *testing.T) {
	noop := func(context.Context, domain.Event) error { return nil }

	d := NewDispatcher()
	if err := d.Register(domain.EventNewMessage, noop); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := d.Register(domain.EventNewMessage, noop); !errors.Is(err, ErrHandlerExists) {
		t.Errorf("duplicate Register = %v, want ErrHandlerExists", err)
	}
	if err := d.Register("SomethingElse", noop); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown kind Register = %v, want ErrUnknownEvent", err)
	}
	if err := d.Register(domain.EventToolCalled, nil); err == nil {
		t.Error("nil handler accepted")
	}

	d.Seal()
	if err := d.Register(domain.EventToolCalled, noop); !errors.Is(err, ErrDispatcherSealed) {
		t.Errorf("Register after Seal = %v, want ErrDispatcherSealed", err)
	}
}

func TestDispatcher_WrapsHandlerError(t *testing.T) {
	storeErr := errors.New("disk full")
	d := NewDispatcher()
	_ = d.Register(domain.EventNewMessage, func(context.Context, domain.Event) error { return storeErr })

	err := d.Dispatch(context.Background(), domain.NewNewMessage(fixedTime, "hi", nil, "a"))
	if !errors.Is(err, storeErr) {
		t.Fatalf("Dispatch = %v, want wrapped %v", err, storeErr)
	}
}

package hub_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/gameweaver/internal/hub"
)

func TestRegisterUnregister(t *testing.T) {
	t.Parallel()

	r := hub.New()
	a := r.Register()
	b := r.Register()
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	r.Unregister(a.ID)
	r.Unregister(a.ID)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if _, ok := <-a.Outbox(); ok {
		t.Error("outbox of unregistered client still open")
	}
}

func TestBroadcast_AllClients(t *testing.T) {
	t.Parallel()

	r := hub.New()
	clients := []*hub.Client{r.Register(), r.Register(), r.Register()}

	r.Broadcast(hub.Message{Event: "system", Data: "hello"})

	for _, c := range clients {
		select {
		case msg := <-c.Outbox():
			if msg.Event != "system" {
				t.Errorf("client %s got event %q, want system", c.ID, msg.Event)
			}
		default:
			t.Errorf("client %s received nothing", c.ID)
		}
	}
}

func TestSend_SingleClient(t *testing.T) {
	t.Parallel()

	r := hub.New()
	a := r.Register()
	b := r.Register()

	if !r.Send(a.ID, hub.Message{Event: "response"}) {
		t.Fatal("Send = false, want true")
	}
	if r.Send("missing", hub.Message{Event: "response"}) {
		t.Error("Send to unknown client = true, want false")
	}
	if len(a.Outbox()) != 1 || len(b.Outbox()) != 0 {
		t.Errorf("outbox lengths = %d/%d, want 1/0", len(a.Outbox()), len(b.Outbox()))
	}
}

func TestBroadcast_SlowClientDoesNotBlock(t *testing.T) {
	t.Parallel()

	r := hub.New(hub.WithOutboxSize(2))
	slow := r.Register()
	fast := r.Register()

	var received int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range fast.Outbox() {
			received++
		}
	}()

	for range 10 {
		r.Broadcast(hub.Message{Event: "tick"})
	}
	if got := len(slow.Outbox()); got != 2 {
		t.Errorf("slow outbox = %d, want 2 (capacity)", got)
	}

	r.Unregister(fast.ID)
	wg.Wait()
	if received == 0 {
		t.Error("fast client received nothing")
	}
}

func TestConcurrentBroadcastAndUnregister(t *testing.T) {
	t.Parallel()

	r := hub.New(hub.WithOutboxSize(1))
	var wg sync.WaitGroup
	for range 20 {
		c := r.Register()
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Broadcast(hub.Message{Event: "x"})
		}()
		go func() {
			defer wg.Done()
			r.Unregister(c.ID)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestMessageBuilders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  hub.Message
		want hub.Message
	}{
		{"system", hub.System("hi"), hub.Message{Event: hub.EventSystem, Data: hub.SystemData{Message: "hi"}}},
		{"system error", hub.SystemError("Error: x"), hub.Message{Event: hub.EventSystem, Data: hub.SystemData{Message: "Error: x", IsError: true}}},
		{"failure", hub.Failure("bad"), hub.Message{Event: hub.EventSystem, Data: hub.SystemData{Message: "bad", IsError: true, Error: true}}},
		{"response", hub.Response("ok", false), hub.Message{Event: hub.EventResponse, Data: hub.ResponseData{Message: "ok"}}},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.name, tc.got, tc.want)
		}
	}
}

package middleware

import (
	"testing"

	"msgpipe/message"
)

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(m *message.Message) {
				order = append(order, name)
				next(m)
			}
		}
	}

	handler := Chain(tag("A"), tag("B"), tag("C"))(func(*message.Message) {
		order = append(order, "handler")
	})
	handler(message.New("x", nil))

	want := []string{"A", "B", "C", "handler"}
	if len(order) != len(want) {
		t.Fatalf("expect %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, order)
		}
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	called := false
	handler := Logging(nil)(func(m *message.Message) {
		called = true
		if m.Name != "ping" {
			t.Fatalf("message mangled: %s", m.Name)
		}
	})
	handler(message.New("ping", nil))
	if !called {
		t.Fatal("inner handler not invoked")
	}
}

func TestRecoverSwallowsPanic(t *testing.T) {
	handler := Recover(nil)(func(*message.Message) {
		panic("boom")
	})
	// Must not propagate.
	handler(message.New("x", nil))
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass immediately, the third is dropped.
	count := 0
	handler := RateLimit(1, 2)(func(*message.Message) { count++ })

	m := message.New("x", nil)
	for i := 0; i < 3; i++ {
		handler(m)
	}
	if count != 2 {
		t.Fatalf("expect 2 messages through, got %d", count)
	}
}

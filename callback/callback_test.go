package callback

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"msgpipe/address"
	"msgpipe/bus"
	"msgpipe/message"
)

func newEngine() (*Engine, *bus.Bus[*message.Message]) {
	b := bus.New[*message.Message]()
	return NewEngine(b, nil), b
}

func reply(id uuid.UUID, from address.Address, kind message.ReplyKind, args map[string]string) *message.Message {
	m := message.NewReply(id, kind, args)
	m.RemoteAddress = from
	return m
}

func TestHappyPath(t *testing.T) {
	e, b := newEngine()
	target := address.New("/run/user/1000/b")

	p := e.Expect(target)
	if p.ID == uuid.Nil {
		t.Fatal("Expect must draw a fresh id")
	}

	done := make(chan *message.Message, 1)
	go func() {
		done <- e.Wait(p, time.Second)
	}()

	// Give the waiter a moment to block, then publish the matching reply.
	time.Sleep(20 * time.Millisecond)
	b.Publish(reply(p.ID, target, message.KindSuccess, map[string]string{"result": "ok"}))

	select {
	case m := <-done:
		if m.Kind != message.KindSuccess {
			t.Fatalf("expect KindSuccess, got %v", m.Kind)
		}
		if m.Args["result"] != "ok" {
			t.Fatalf("expect peer args, got %v", m.Args)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not resolve")
	}

	if e.PendingCount() != 0 {
		t.Fatal("resolved record must leave the pending table")
	}
	if b.Len() != 0 {
		t.Fatal("matcher subscription must be removed on resolution")
	}
}

func TestReplyBeforeWait(t *testing.T) {
	e, b := newEngine()
	target := address.New("/a")

	p := e.Expect(target)
	b.Publish(reply(p.ID, target, message.KindSuccess, nil))

	m := e.Wait(p, time.Second)
	if m.Kind != message.KindSuccess {
		t.Fatalf("expect buffered reply, got kind %v", m.Kind)
	}
}

func TestTimeoutSynthesizesErrorReply(t *testing.T) {
	e, _ := newEngine()
	target := address.New("/a")

	p := e.Expect(target)
	start := time.Now()
	m := e.Wait(p, 100*time.Millisecond)

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("Wait returned before the timeout: %v", elapsed)
	}
	if m.Type() != message.TypeCallbackReply {
		t.Fatal("synthetic result must be a callback reply")
	}
	if m.Kind != message.KindError {
		t.Fatalf("expect KindError, got %v", m.Kind)
	}
	if m.Args[TimeoutErrorKey] != TimeoutErrorText {
		t.Fatalf("expect the fixed timeout payload, got %v", m.Args)
	}
	if m.CallbackID != p.ID {
		t.Fatal("synthetic reply must echo the pending id")
	}
	if e.PendingCount() != 0 {
		t.Fatal("timed-out record must leave the pending table")
	}
}

// A peer error reply and a local timeout surface through the same type;
// only the payload convention tells them apart.
func TestPeerErrorIsDistinguishableFromTimeout(t *testing.T) {
	e, b := newEngine()
	target := address.New("/a")

	p := e.Expect(target)
	b.Publish(reply(p.ID, target, message.KindError, map[string]string{"error": "no such resource"}))

	m := e.Wait(p, time.Second)
	if m.Kind != message.KindError {
		t.Fatalf("expect KindError, got %v", m.Kind)
	}
	if m.Args[TimeoutErrorKey] == TimeoutErrorText {
		t.Fatal("peer error must not carry the synthetic timeout payload")
	}
}

func TestUnmatchedReplyIsDropped(t *testing.T) {
	e, b := newEngine()
	target := address.New("/a")

	p := e.Expect(target)

	// Wrong id, wrong address, and a late reply after timeout: none may
	// disturb anything.
	b.Publish(reply(uuid.New(), target, message.KindSuccess, nil))
	b.Publish(reply(p.ID, address.New("/other"), message.KindSuccess, nil))

	m := e.Wait(p, 50*time.Millisecond)
	if m.Kind != message.KindError || m.Args[TimeoutErrorKey] != TimeoutErrorText {
		t.Fatal("mismatched replies must not resolve the wait")
	}

	// Late reply for the already timed-out record.
	b.Publish(reply(p.ID, target, message.KindSuccess, nil))
	if e.PendingCount() != 0 {
		t.Fatal("late reply must have no effect")
	}
}

func TestResolutionHappensExactlyOnce(t *testing.T) {
	e, b := newEngine()
	target := address.New("/a")

	p := e.Expect(target)
	first := reply(p.ID, target, message.KindSuccess, map[string]string{"n": "1"})
	second := reply(p.ID, target, message.KindSuccess, map[string]string{"n": "2"})
	b.Publish(first)
	b.Publish(second)

	m := e.Wait(p, time.Second)
	if m.Args["n"] != "1" {
		t.Fatalf("expect the first matching reply, got %v", m.Args)
	}
	select {
	case extra := <-p.result:
		t.Fatalf("second resolution leaked: %v", extra.Args)
	default:
	}
}

func TestAbort(t *testing.T) {
	e, b := newEngine()
	p := e.Expect(address.New("/a"))

	e.Abort(p)
	if e.PendingCount() != 0 {
		t.Fatal("aborted record must leave the pending table")
	}
	if b.Len() != 0 {
		t.Fatal("aborted record must unsubscribe its matcher")
	}
}

func TestDistinctTargetsSameEngine(t *testing.T) {
	e, b := newEngine()
	a := address.New("/a")
	c := address.New("/c")

	pa := e.Expect(a)
	pc := e.Expect(c)

	b.Publish(reply(pc.ID, c, message.KindSuccess, map[string]string{"who": "c"}))
	b.Publish(reply(pa.ID, a, message.KindSuccess, map[string]string{"who": "a"}))

	if m := e.Wait(pa, time.Second); m.Args["who"] != "a" {
		t.Fatalf("record a resolved with wrong reply: %v", m.Args)
	}
	if m := e.Wait(pc, time.Second); m.Args["who"] != "c" {
		t.Fatalf("record c resolved with wrong reply: %v", m.Args)
	}
}

package codec

import (
	"testing"

	"github.com/google/uuid"

	"msgpipe/address"
	"msgpipe/message"
)

func roundTrip(t *testing.T, m *message.Message) *message.Message {
	t.Helper()
	frame, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return Decode(frame)
}

func assertArgsEqual(t *testing.T, want, got map[string]string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("args length mismatch: want %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("arg %q: want %q, got %q", k, v, got[k])
		}
	}
}

func TestRoundTripPlain(t *testing.T) {
	m := message.New("temperature-update", map[string]string{
		"celsius": "21.5",
		"room":    "kitchen",
	})

	got := roundTrip(t, m)
	if got.Name != m.Name {
		t.Fatalf("name: want %q, got %q", m.Name, got.Name)
	}
	assertArgsEqual(t, m.Args, got.Args)
	if got.Type() != message.TypeNormal {
		t.Fatalf("expect TypeNormal, got %v", got.Type())
	}
}

func TestRoundTripEscaping(t *testing.T) {
	m := message.New("a b", map[string]string{`k"1`: "v;2"})

	got := roundTrip(t, m)
	if got.Name != "a b" {
		t.Fatalf("name: want 'a b', got %q", got.Name)
	}
	assertArgsEqual(t, map[string]string{`k"1`: "v;2"}, got.Args)
}

func TestRoundTripAllReservedChars(t *testing.T) {
	m := message.New("multi word name", map[string]string{
		`quo"te`:  `a:b;c"d`,
		`co:lon`:  `::;;""`,
		`semi;co`: "plain",
		"plain":   "",
	})

	got := roundTrip(t, m)
	if got.Name != m.Name {
		t.Fatalf("name: want %q, got %q", m.Name, got.Name)
	}
	assertArgsEqual(t, m.Args, got.Args)
}

// A backslash only escapes a directly following reserved character; a bare
// backslash, including one at the very end of a value, is literal and must
// survive a round-trip unchanged.
func TestRoundTripTrailingBackslash(t *testing.T) {
	m := message.New("n", map[string]string{
		"tail":    `a\`,
		"lone":    `\`,
		"escsemi": `a\;b`,
		"double":  `a\\b`,
	})

	got := roundTrip(t, m)
	assertArgsEqual(t, m.Args, got.Args)
}

func TestReservedKeysStampedAndStripped(t *testing.T) {
	m := message.New("ping", map[string]string{"n": "1"})
	m.RemoteAddress = address.New("/run/user/1000/a")
	m.CallbackID = uuid.New()

	frame, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got := Decode(frame)
	if _, ok := got.Args[message.AddressKey]; ok {
		t.Fatal("reserved address key must not leak into Args")
	}
	if _, ok := got.Args[message.CallbackIDKey]; ok {
		t.Fatal("reserved callback-id key must not leak into Args")
	}
	if !got.RemoteAddress.Equal(m.RemoteAddress) {
		t.Fatal("remote address lost on the wire")
	}
	if got.CallbackID != m.CallbackID {
		t.Fatal("callback id lost on the wire")
	}
	assertArgsEqual(t, map[string]string{"n": "1"}, got.Args)
}

func TestReplyFrame(t *testing.T) {
	id := uuid.New()
	m := message.NewReply(id, message.KindSuccess, map[string]string{"result": "42"})
	m.RemoteAddress = address.New("/run/user/1000/b")

	got := roundTrip(t, m)
	if got.Type() != message.TypeCallbackReply {
		t.Fatalf("expect TypeCallbackReply, got %v", got.Type())
	}
	if got.CallbackID != id {
		t.Fatal("reply id mismatch")
	}
	if got.Kind != message.KindSuccess {
		t.Fatalf("expect KindSuccess, got %v", got.Kind)
	}
}

func TestEncodeEmptyName(t *testing.T) {
	if _, err := Encode(message.New("", nil)); err != ErrEmptyName {
		t.Fatalf("expect ErrEmptyName, got %v", err)
	}
}

// Malformed frames decode to a best-effort Message with empty Args; the
// decoder never errors, so one bad frame cannot kill a session.
func TestDecodeLenient(t *testing.T) {
	cases := []struct {
		frame    string
		wantName string
	}{
		{"bare-name", "bare-name"},
		{"name-only ", "name-only"},
		{"name garbage-without-colon;", "name"},
		{`name "":"v";`, "name"}, // empty key is dropped
		{"", ""},
	}
	for _, c := range cases {
		got := Decode(c.frame)
		if got.Name != c.wantName {
			t.Fatalf("frame %q: want name %q, got %q", c.frame, c.wantName, got.Name)
		}
		if len(got.Args) != 0 {
			t.Fatalf("frame %q: expect empty args, got %v", c.frame, got.Args)
		}
	}
}

func TestDecodeGarbledCallbackID(t *testing.T) {
	frame := `n "` + message.CallbackIDKey + `":"not-a-uuid";`
	got := Decode(frame)
	if got.CallbackID != uuid.Nil {
		t.Fatal("garbled id must degrade to uuid.Nil")
	}
	if len(got.Args) != 0 {
		t.Fatal("reserved key must still be stripped")
	}
}

func TestDecodeTrimsFrame(t *testing.T) {
	got := Decode("ping \"a\":\"b\";\n")
	if got.Name != "ping" {
		t.Fatalf("expect 'ping', got %q", got.Name)
	}
	assertArgsEqual(t, map[string]string{"a": "b"}, got.Args)
}

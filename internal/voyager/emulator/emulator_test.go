package emulator

import "testing"

func TestWriteForwardsToOutputCallback(t *testing.T) {
	e, err := New(80, 24)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got []byte
	e.OnOutput(func(b []byte) { got = append(got, b...) })

	e.Write([]byte("hello"))
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestResizeDoesNotPanic(t *testing.T) {
	e, err := New(80, 24)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Resize(120, 40)
}

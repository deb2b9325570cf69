package ipc

import (
	"bytes"
	"strings"
	"testing"
)

func TestSimpleRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimple(&buf, uint32(0xdeadbeef)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSimple[uint32](&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("got %x, want %x", got, 0xdeadbeef)
	}
}

func TestBufRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := []byte{1, 2, 3, 4, 5}
	if err := WriteBuf(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadBuf(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBufRoundTripEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBuf(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadBuf(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty buf, got %v", got)
	}
}

func TestStrRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := "rsync://rpki.example/repo/ta.cer"
	if err := WriteStr(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadStr(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadBufRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimple(&buf, uint32(maxFrameLen+1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadBuf(&buf); err == nil {
		t.Fatal("expected error for a length exceeding the frame limit")
	}
}

func TestReadBufTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimple(&buf, uint32(10)); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf.WriteString("short")
	if _, err := ReadBuf(&buf); err == nil {
		t.Fatal("expected error for a truncated buf body")
	}
}

func TestMultipleFramesSequentialOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteStr(&buf, "first")
	_ = WriteStr(&buf, "second")

	r := strings.NewReader(buf.String())
	a, err := ReadStr(r)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	b, err := ReadStr(r)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if a != "first" || b != "second" {
		t.Errorf("got %q, %q", a, b)
	}
}

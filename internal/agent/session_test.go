package agent

import (
	"bytes"
	"errors"
	"testing"
)

func TestSessionHappyPath(t *testing.T) {
	s := NewSession()
	if s.Phase() != AwaitingDigest {
		t.Fatalf("new session phase = %v", s.Phase())
	}

	digest := bytes.Repeat([]byte{0xab}, 20)
	phase, err := s.HandleWrite(digest)
	if err != nil {
		t.Fatalf("digest write error = %v", err)
	}
	if phase != AwaitingChunks {
		t.Fatalf("phase after digest = %v, want AwaitingChunks", phase)
	}

	chunks := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, c := range chunks {
		if _, err := s.HandleWrite(c); err != nil {
			t.Fatalf("chunk write error = %v", err)
		}
	}

	phase, err = s.HandleWrite(nil)
	if err != nil {
		t.Fatalf("terminator write error = %v", err)
	}
	if phase != Complete {
		t.Fatalf("phase after terminator = %v, want Complete", phase)
	}

	if got := s.Data(); string(got) != "firstsecondthird" {
		t.Errorf("Data() = %q, chunks not appended in order", got)
	}
	if got := s.Digest(); !bytes.Equal(got[:], digest) {
		t.Errorf("Digest() = %x, want %x", got, digest)
	}
}

func TestSessionBadDigestLength(t *testing.T) {
	for _, n := range []int{0, 1, 19, 21, 64} {
		s := NewSession()
		phase, err := s.HandleWrite(make([]byte, n))
		if !errors.Is(err, ErrBadDigestLength) {
			t.Errorf("first write of %d bytes: error = %v, want ErrBadDigestLength", n, err)
		}
		if phase != Aborted {
			t.Errorf("first write of %d bytes: phase = %v, want Aborted", n, phase)
		}
	}
}

func TestSessionRejectsWritesAfterTerminal(t *testing.T) {
	s := NewSession()
	s.HandleWrite(make([]byte, 20))
	s.HandleWrite(nil)

	if _, err := s.HandleWrite([]byte("late")); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("write after Complete: error = %v, want ErrSessionFinished", err)
	}

	s = NewSession()
	s.HandleWrite([]byte("short"))
	if _, err := s.HandleWrite(make([]byte, 20)); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("write after Aborted: error = %v, want ErrSessionFinished", err)
	}
}

func TestSessionImmediateTerminator(t *testing.T) {
	s := NewSession()
	s.HandleWrite(make([]byte, 20))
	phase, err := s.HandleWrite([]byte{})
	if err != nil {
		t.Fatalf("terminator error = %v", err)
	}
	if phase != Complete {
		t.Fatalf("phase = %v, want Complete", phase)
	}
	if len(s.Data()) != 0 {
		t.Errorf("Data() = %d bytes, want empty", len(s.Data()))
	}
}

// Package agent implements the device side of the OTA workflow: the
// control-characteristic state machine, the update orchestrator that
// verifies and applies a received image, and the advertising supervisor
// that binds one workflow to each BLE connection.
package agent

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/otable/otable/internal/payload"
)

// Phase is the control-channel state for one image transfer session.
type Phase int

const (
	// AwaitingDigest expects the 20-byte SHA-1 digest as the first write.
	AwaitingDigest Phase = iota
	// AwaitingChunks accumulates ciphertext until the zero-length
	// terminator write.
	AwaitingChunks
	// Complete means the terminator arrived and the buffer is ready for
	// post-processing.
	Complete
	// Aborted is terminal; the session accepts no further writes.
	Aborted
)

func (p Phase) String() string {
	switch p {
	case AwaitingDigest:
		return "awaiting-digest"
	case AwaitingChunks:
		return "awaiting-chunks"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ErrBadDigestLength means the first write of a session was not exactly the
// digest size. The session aborts; nothing is sent back to the peer.
var ErrBadDigestLength = errors.New("first chunk is not a valid digest length")

// ErrSessionFinished means a write arrived after the session reached a
// terminal phase.
var ErrSessionFinished = errors.New("session already finished")

// Session is one image transfer over the control characteristic, created on
// the first write of a connection and discarded when the connection closes
// or the workflow finishes. Writes must be handed to it in the order the
// transport delivered them.
type Session struct {
	phase  Phase
	digest [payload.DigestSize]byte
	buf    bytes.Buffer
}

// NewSession returns a session awaiting its digest write.
func NewSession() *Session {
	return &Session{phase: AwaitingDigest}
}

// HandleWrite consumes one characteristic write and returns the phase the
// session is in afterwards. There is no bound on the number of data chunks;
// a peer that never terminates holds the session open until the connection
// drops.
func (s *Session) HandleWrite(chunk []byte) (Phase, error) {
	switch s.phase {
	case AwaitingDigest:
		if len(chunk) != payload.DigestSize {
			s.phase = Aborted
			return s.phase, fmt.Errorf("%w: got %d bytes", ErrBadDigestLength, len(chunk))
		}
		copy(s.digest[:], chunk)
		s.phase = AwaitingChunks
		return s.phase, nil
	case AwaitingChunks:
		if len(chunk) == 0 {
			s.phase = Complete
			return s.phase, nil
		}
		s.buf.Write(chunk)
		return s.phase, nil
	default:
		return s.phase, ErrSessionFinished
	}
}

// Phase returns the current session phase.
func (s *Session) Phase() Phase { return s.phase }

// Digest returns the expected payload digest received in the first write.
func (s *Session) Digest() [payload.DigestSize]byte { return s.digest }

// Data returns the accumulated ciphertext.
func (s *Session) Data() []byte { return s.buf.Bytes() }

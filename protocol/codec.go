package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame body. Images travel inline, so the
// limit is generous.
const DefaultMaxFrameSize = 8 << 20

var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrUnknownTag       = errors.New("unknown command tag")
	ErrMalformedPayload = errors.New("malformed command payload")
)

type envelope struct {
	Tag     Tag             `json:"tag"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes cmd into a frame body.
func Encode(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Tag(), err)
	}
	return json.Marshal(envelope{Tag: cmd.Tag(), Payload: payload})
}

// Decode parses a frame body. Errors wrap ErrUnknownTag or ErrMalformedPayload;
// both mean the peer sent something meaningless, not that the stream broke.
func Decode(body []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	decode, ok := decoders[env.Tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.Tag)
	}
	cmd, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Tag, err)
	}
	return cmd, nil
}

func decodeAs[T Command](payload []byte) (Command, error) {
	var cmd T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// ReadFrame reads one length-prefixed frame body from r.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body with its length prefix in a single Write call, so
// a frame is never split between concurrent writers sharing w.
func WriteFrame(w io.Writer, body []byte) error {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

// WriteCommand encodes cmd and writes it as one frame.
func WriteCommand(w io.Writer, cmd Command) error {
	body, err := Encode(cmd)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadCommand reads and decodes one frame.
func ReadCommand(r io.Reader, maxSize int) (Command, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter separates routing identities from the signed message frames.
const Delimiter = "<IDS|MSG>"

var (
	// ErrMissingDelimiter reports frames without the <IDS|MSG> delimiter.
	ErrMissingDelimiter = errors.New("message delimiter not found")
	// ErrShortMessage reports fewer than the five frames following the delimiter.
	ErrShortMessage = errors.New("message has too few frames")
	// ErrBadSignature reports a signature mismatch.
	ErrBadSignature = errors.New("message signature mismatch")
)

var delimiter = []byte(Delimiter)

// Encode renders msg as ZeroMQ frames, signing with signer.
func Encode(msg Message, signer Signer) ([][]byte, error) {
	header, err := encodeHeader(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	parent, err := encodeHeader(msg.ParentHeader)
	if err != nil {
		return nil, fmt.Errorf("encode parent header: %w", err)
	}
	metadata := []byte("{}")
	if len(msg.Metadata) > 0 {
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	content := []byte(msg.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}

	frames := make([][]byte, 0, len(msg.Identities)+6+len(msg.Buffers))
	frames = append(frames, msg.Identities...)
	frames = append(frames,
		delimiter,
		signer.Sign(header, parent, metadata, content),
		header,
		parent,
		metadata,
		content,
	)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// Decode parses frames into a Message and verifies the signature.
func Decode(frames [][]byte, signer Signer) (Message, error) {
	idx := -1
	for i, frame := range frames {
		if bytes.Equal(frame, delimiter) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Message{}, ErrMissingDelimiter
	}
	rest := frames[idx+1:]
	if len(rest) < 5 {
		return Message{}, fmt.Errorf("%w: got %d after delimiter", ErrShortMessage, len(rest))
	}
	signature, header, parent, metadata, content := rest[0], rest[1], rest[2], rest[3], rest[4]
	if !signer.Verify(signature, header, parent, metadata, content) {
		return Message{}, ErrBadSignature
	}

	msg := Message{
		Identities: frames[:idx],
		Content:    json.RawMessage(content),
		Buffers:    rest[5:],
	}
	var err error
	if msg.Header, err = decodeHeader(header); err != nil {
		return Message{}, fmt.Errorf("decode header: %w", err)
	}
	if msg.ParentHeader, err = decodeHeader(parent); err != nil {
		return Message{}, fmt.Errorf("decode parent header: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return Message{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return msg, nil
}

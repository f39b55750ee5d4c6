// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ReadErrorKind classifies a failed packet read. The handshake treats
// the kinds differently: IO failures drop the connection silently,
// while the other two are reported to the peer as InvalidPacket first.
type ReadErrorKind int

const (
	// KindIO means the connection failed. It is not recoverable.
	KindIO ReadErrorKind = iota

	// KindDeserialization means the bytes parsed into no valid variant.
	KindDeserialization

	// KindInvalidPacket means the bytes parsed into a variant that is
	// not expected at this stage of the handshake.
	KindInvalidPacket
)

func (k ReadErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindDeserialization:
		return "deserialization"
	case KindInvalidPacket:
		return "invalid packet"
	default:
		return fmt.Sprintf("ReadErrorKind(%d)", int(k))
	}
}

// ReadError is returned by every read and decode function in this
// package.
type ReadError struct {
	Kind ReadErrorKind
	Err  error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Kind.String()
	}
	return fmt.Sprintf("protocol: %s: %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsKind reports whether err is a ReadError of the given kind.
func IsKind(err error, kind ReadErrorKind) bool {
	var readError *ReadError
	return errors.As(err, &readError) && readError.Kind == kind
}

func ioError(err error) error {
	return &ReadError{Kind: KindIO, Err: err}
}

func deserializationError(message string) error {
	return &ReadError{Kind: KindDeserialization, Err: errors.New(message)}
}

func unexpectedPacket(got any, want string) error {
	return &ReadError{Kind: KindInvalidPacket, Err: fmt.Errorf("got %T, want %s", got, want)}
}

// readExact reads exactly size bytes. Short reads are IO errors.
func readExact(r io.Reader, size int) ([]byte, error) {
	buffer := make([]byte, size)
	if _, err := io.ReadFull(r, buffer); err != nil {
		return nil, ioError(err)
	}
	return buffer, nil
}

// ReadHello reads exactly one client Hello.
func ReadHello(r io.Reader) (Hello, error) {
	buffer, err := readExact(r, HelloSize())
	if err != nil {
		return Hello{}, err
	}
	packet, err := DecodeClient(buffer)
	if err != nil {
		return Hello{}, err
	}
	hello, ok := packet.(Hello)
	if !ok {
		return Hello{}, unexpectedPacket(packet, "Hello")
	}
	return hello, nil
}

// ReadAuth reads exactly one client Auth and returns its key.
func ReadAuth(r io.Reader) ([KeyWidth]byte, error) {
	buffer, err := readExact(r, AuthSize())
	if err != nil {
		return [KeyWidth]byte{}, err
	}
	packet, err := DecodeClient(buffer)
	if err != nil {
		return [KeyWidth]byte{}, err
	}
	auth, ok := packet.(Auth)
	if !ok {
		return [KeyWidth]byte{}, unexpectedPacket(packet, "Auth")
	}
	return auth.Key, nil
}

// ReadServer reads one server packet of any variant. The variant tag
// selects the precomputed size; for Error packets the nested error tag
// does.
func ReadServer(r io.Reader) (ServerPacket, error) {
	head, err := readExact(r, tagWidth)
	if err != nil {
		return nil, err
	}
	tag := binary.LittleEndian.Uint32(head)

	var size int
	if tag == tagServerError {
		errorTag, err := readExact(r, tagWidth)
		if err != nil {
			return nil, err
		}
		head = append(head, errorTag...)
		known, ok := sizes().serverErrors[binary.LittleEndian.Uint32(errorTag)]
		if !ok {
			return nil, deserializationError(fmt.Sprintf("unknown error tag %d", binary.LittleEndian.Uint32(errorTag)))
		}
		size = known
	} else {
		known, ok := sizes().server[tag]
		if !ok {
			return nil, deserializationError(fmt.Sprintf("unknown server packet tag %d", tag))
		}
		size = known
	}

	rest, err := readExact(r, size-len(head))
	if err != nil {
		return nil, err
	}
	return DecodeServer(append(head, rest...))
}

// WriteClient encodes and writes one client packet.
func WriteClient(w io.Writer, packet ClientPacket) error {
	if _, err := w.Write(EncodeClient(packet)); err != nil {
		return fmt.Errorf("writing %T: %w", packet, err)
	}
	return nil
}

// WriteServer encodes and writes one server packet.
func WriteServer(w io.Writer, packet ServerPacket) error {
	if _, err := w.Write(EncodeServer(packet)); err != nil {
		return fmt.Errorf("writing %T: %w", packet, err)
	}
	return nil
}

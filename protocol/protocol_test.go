// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func sampleKey() [KeyWidth]byte {
	var key [KeyWidth]byte
	for index := range key {
		key[index] = byte('a' + index%26)
	}
	return key
}

func TestSizes(t *testing.T) {
	if got := HelloSize(); got != 5 {
		t.Errorf("HelloSize() = %d, want 5", got)
	}
	if got := AuthSize(); got != 36 {
		t.Errorf("AuthSize() = %d, want 36", got)
	}

	serverCases := []struct {
		packet ServerPacket
		want   int
	}{
		{Hello{ProtocolVersion: CurrentVersion}, 5},
		{Error{Err: ProtocolVersionMismatch{ServerVersion: CurrentVersion}}, 9},
		{Error{Err: InvalidPacket{}}, 8},
		{AuthSuccess{}, 4},
		{Unauthorized{}, 4},
	}
	for _, test := range serverCases {
		if got := ServerSize(test.packet); got != test.want {
			t.Errorf("ServerSize(%#v) = %d, want %d", test.packet, got, test.want)
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	packets := []ClientPacket{
		Hello{ProtocolVersion: CurrentVersion},
		Hello{ProtocolVersion: 99},
		Auth{Key: sampleKey()},
		Auth{},
	}
	for _, packet := range packets {
		encoded := EncodeClient(packet)

		wantSize := HelloSize()
		if _, ok := packet.(Auth); ok {
			wantSize = AuthSize()
		}
		if len(encoded) != wantSize {
			t.Errorf("EncodeClient(%#v) length = %d, want %d", packet, len(encoded), wantSize)
		}

		decoded, err := DecodeClient(encoded)
		if err != nil {
			t.Fatalf("DecodeClient(%#v) error: %v", packet, err)
		}
		if decoded != packet {
			t.Errorf("round trip = %#v, want %#v", decoded, packet)
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	packets := []ServerPacket{
		Hello{ProtocolVersion: CurrentVersion},
		Error{Err: ProtocolVersionMismatch{ServerVersion: 7}},
		Error{Err: InvalidPacket{}},
		AuthSuccess{},
		Unauthorized{},
	}
	for _, packet := range packets {
		encoded := EncodeServer(packet)
		if len(encoded) != ServerSize(packet) {
			t.Errorf("EncodeServer(%#v) length = %d, want %d", packet, len(encoded), ServerSize(packet))
		}

		decoded, err := DecodeServer(encoded)
		if err != nil {
			t.Fatalf("DecodeServer(%#v) error: %v", packet, err)
		}
		if decoded != packet {
			t.Errorf("round trip = %#v, want %#v", decoded, packet)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	first := EncodeClient(Auth{Key: sampleKey()})
	second := EncodeClient(Auth{Key: sampleKey()})
	if !bytes.Equal(first, second) {
		t.Errorf("encoding differs between calls: %x vs %x", first, second)
	}

	// Layout compatible with the Rust agents: u32 LE tag, then fields.
	want := []byte{0, 0, 0, 0, 1}
	if got := EncodeClient(Hello{ProtocolVersion: 1}); !bytes.Equal(got, want) {
		t.Errorf("EncodeClient(Hello{1}) = %x, want %x", got, want)
	}
	want = []byte{1, 0, 0, 0, 0, 0, 0, 0, 1}
	if got := EncodeServer(Error{Err: ProtocolVersionMismatch{ServerVersion: 1}}); !bytes.Equal(got, want) {
		t.Errorf("EncodeServer(mismatch) = %x, want %x", got, want)
	}
}

func TestDecodeClient_UnknownTag(t *testing.T) {
	_, err := DecodeClient([]byte{9, 0, 0, 0, 1})
	if !IsKind(err, KindDeserialization) {
		t.Fatalf("DecodeClient(unknown tag) error = %v, want deserialization", err)
	}
}

func TestDecodeClient_Truncated(t *testing.T) {
	_, err := DecodeClient([]byte{1, 0, 0, 0, 1})
	if !IsKind(err, KindDeserialization) {
		t.Fatalf("DecodeClient(truncated auth) error = %v, want deserialization", err)
	}
	_, err = DecodeClient([]byte{0, 0})
	if !IsKind(err, KindDeserialization) {
		t.Fatalf("DecodeClient(short tag) error = %v, want deserialization", err)
	}
}

func TestReadHello(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteClient(&buffer, Hello{ProtocolVersion: CurrentVersion}); err != nil {
		t.Fatalf("WriteClient() error: %v", err)
	}
	buffer.WriteString("trailing")

	hello, err := ReadHello(&buffer)
	if err != nil {
		t.Fatalf("ReadHello() error: %v", err)
	}
	if !hello.Valid() {
		t.Errorf("hello version = %d, want %d", hello.ProtocolVersion, CurrentVersion)
	}
	if buffer.String() != "trailing" {
		t.Errorf("ReadHello consumed past the packet: remaining %q", buffer.String())
	}
}

func TestReadAuth_WrongVariant(t *testing.T) {
	// A Hello padded out to Auth size parses, but is the wrong variant.
	data := EncodeClient(Hello{ProtocolVersion: CurrentVersion})
	data = append(data, make([]byte, AuthSize()-len(data))...)

	_, err := ReadAuth(bytes.NewReader(data))
	if !IsKind(err, KindInvalidPacket) {
		t.Fatalf("ReadAuth(hello) error = %v, want invalid packet", err)
	}
}

func TestReadAuth_ShortStream(t *testing.T) {
	_, err := ReadAuth(bytes.NewReader([]byte{1, 0, 0, 0, 'k'}))
	if !IsKind(err, KindIO) {
		t.Fatalf("ReadAuth(short) error = %v, want io", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadAuth(short) error = %v, want wrapped io.ErrUnexpectedEOF", err)
	}
}

func TestReadServer_Sequence(t *testing.T) {
	packets := []ServerPacket{
		Hello{ProtocolVersion: CurrentVersion},
		Error{Err: InvalidPacket{}},
		Error{Err: ProtocolVersionMismatch{ServerVersion: 3}},
		AuthSuccess{},
		Unauthorized{},
	}
	var buffer bytes.Buffer
	for _, packet := range packets {
		if err := WriteServer(&buffer, packet); err != nil {
			t.Fatalf("WriteServer() error: %v", err)
		}
	}

	for index, want := range packets {
		got, err := ReadServer(&buffer)
		if err != nil {
			t.Fatalf("ReadServer() packet %d error: %v", index, err)
		}
		if got != want {
			t.Errorf("ReadServer() packet %d = %#v, want %#v", index, got, want)
		}
	}
	if buffer.Len() != 0 {
		t.Errorf("%d bytes left after reading every packet", buffer.Len())
	}
}

func TestReadServer_UnknownTag(t *testing.T) {
	_, err := ReadServer(bytes.NewReader([]byte{42, 0, 0, 0}))
	if !IsKind(err, KindDeserialization) {
		t.Fatalf("ReadServer(unknown) error = %v, want deserialization", err)
	}
}

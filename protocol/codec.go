// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// EncodeClient serializes a client packet. The output depends only on
// the packet's variant and field values.
func EncodeClient(packet ClientPacket) []byte {
	switch p := packet.(type) {
	case Hello:
		buffer := binary.LittleEndian.AppendUint32(nil, tagClientHello)
		return append(buffer, p.ProtocolVersion)
	case Auth:
		buffer := binary.LittleEndian.AppendUint32(make([]byte, 0, tagWidth+KeyWidth), tagClientAuth)
		return append(buffer, p.Key[:]...)
	default:
		panic(fmt.Sprintf("protocol: unknown client packet %T", packet))
	}
}

// EncodeServer serializes a server packet.
func EncodeServer(packet ServerPacket) []byte {
	switch p := packet.(type) {
	case Hello:
		buffer := binary.LittleEndian.AppendUint32(nil, tagServerHello)
		return append(buffer, p.ProtocolVersion)
	case Error:
		buffer := binary.LittleEndian.AppendUint32(nil, tagServerError)
		switch e := p.Err.(type) {
		case ProtocolVersionMismatch:
			buffer = binary.LittleEndian.AppendUint32(buffer, tagErrorVersionMismatch)
			return append(buffer, e.ServerVersion)
		case InvalidPacket:
			return binary.LittleEndian.AppendUint32(buffer, tagErrorInvalidPacket)
		default:
			panic(fmt.Sprintf("protocol: unknown error variant %T", p.Err))
		}
	case AuthSuccess:
		return binary.LittleEndian.AppendUint32(nil, tagServerAuthSuccess)
	case Unauthorized:
		return binary.LittleEndian.AppendUint32(nil, tagServerUnauthorized)
	default:
		panic(fmt.Sprintf("protocol: unknown server packet %T", packet))
	}
}

// DecodeClient parses a client packet. Bytes after the variant's
// fields are ignored. A buffer that does not parse into any variant
// yields a Deserialization ReadError.
func DecodeClient(data []byte) (ClientPacket, error) {
	tag, rest, err := splitTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagClientHello:
		if len(rest) < 1 {
			return nil, deserializationError("hello: missing protocol version")
		}
		return Hello{ProtocolVersion: rest[0]}, nil
	case tagClientAuth:
		if len(rest) < KeyWidth {
			return nil, deserializationError(fmt.Sprintf("auth: key is %d bytes, want %d", len(rest), KeyWidth))
		}
		var auth Auth
		copy(auth.Key[:], rest[:KeyWidth])
		return auth, nil
	default:
		return nil, deserializationError(fmt.Sprintf("unknown client packet tag %d", tag))
	}
}

// DecodeServer parses a server packet.
func DecodeServer(data []byte) (ServerPacket, error) {
	tag, rest, err := splitTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagServerHello:
		if len(rest) < 1 {
			return nil, deserializationError("hello: missing protocol version")
		}
		return Hello{ProtocolVersion: rest[0]}, nil
	case tagServerError:
		errorTag, fields, err := splitTag(rest)
		if err != nil {
			return nil, err
		}
		switch errorTag {
		case tagErrorVersionMismatch:
			if len(fields) < 1 {
				return nil, deserializationError("version mismatch: missing server version")
			}
			return Error{Err: ProtocolVersionMismatch{ServerVersion: fields[0]}}, nil
		case tagErrorInvalidPacket:
			return Error{Err: InvalidPacket{}}, nil
		default:
			return nil, deserializationError(fmt.Sprintf("unknown error tag %d", errorTag))
		}
	case tagServerAuthSuccess:
		return AuthSuccess{}, nil
	case tagServerUnauthorized:
		return Unauthorized{}, nil
	default:
		return nil, deserializationError(fmt.Sprintf("unknown server packet tag %d", tag))
	}
}

func splitTag(data []byte) (uint32, []byte, error) {
	if len(data) < tagWidth {
		return 0, nil, deserializationError(fmt.Sprintf("packet is %d bytes, shorter than a tag", len(data)))
	}
	return binary.LittleEndian.Uint32(data), data[tagWidth:], nil
}

// packetSizes holds the encoded size of every variant, keyed by tag.
// Server Error packets are keyed by their nested error tag in
// serverErrors.
type packetSizes struct {
	client       map[uint32]int
	server       map[uint32]int
	serverErrors map[uint32]int
}

var sizes = sync.OnceValue(func() packetSizes {
	return packetSizes{
		client: map[uint32]int{
			tagClientHello: len(EncodeClient(Hello{ProtocolVersion: CurrentVersion})),
			tagClientAuth:  len(EncodeClient(Auth{})),
		},
		server: map[uint32]int{
			tagServerHello:        len(EncodeServer(Hello{ProtocolVersion: CurrentVersion})),
			tagServerAuthSuccess:  len(EncodeServer(AuthSuccess{})),
			tagServerUnauthorized: len(EncodeServer(Unauthorized{})),
		},
		serverErrors: map[uint32]int{
			tagErrorVersionMismatch: len(EncodeServer(Error{Err: ProtocolVersionMismatch{ServerVersion: CurrentVersion}})),
			tagErrorInvalidPacket:   len(EncodeServer(Error{Err: InvalidPacket{}})),
		},
	}
})

// HelloSize is the exact number of bytes in a client Hello.
func HelloSize() int { return sizes().client[tagClientHello] }

// AuthSize is the exact number of bytes in a client Auth.
func AuthSize() int { return sizes().client[tagClientAuth] }

// ServerSize returns the encoded size of a server packet's variant.
// Every packet of the same variant has this size.
func ServerSize(packet ServerPacket) int {
	switch p := packet.(type) {
	case Hello:
		return sizes().server[tagServerHello]
	case Error:
		switch p.Err.(type) {
		case ProtocolVersionMismatch:
			return sizes().serverErrors[tagErrorVersionMismatch]
		case InvalidPacket:
			return sizes().serverErrors[tagErrorInvalidPacket]
		}
	case AuthSuccess:
		return sizes().server[tagServerAuthSuccess]
	case Unauthorized:
		return sizes().server[tagServerUnauthorized]
	}
	panic(fmt.Sprintf("protocol: unknown server packet %T", packet))
}

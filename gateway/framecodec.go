/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package gateway

import (
	"fmt"

	"github.com/gobwas/ws"

	"github.com/nullshard/gatewire/closecode"
	"github.com/nullshard/gatewire/gatewayerr"
)

// maxPayloadBytes is the Gateway's hard limit on one encoded outbound
// payload. This is a server-side content limit, independent of any WebSocket
// frame-size limit the transport itself might impose.
const maxPayloadBytes = 4096

// decodedFrame is the result of routing one inbound WebSocket frame.
// At most one of its fields is meaningful, selected by which occurred; none
// is when a BINARY frame did not yet complete a zlib-stream payload.
type decodedFrame struct {
	// envelope is set when a complete Gateway envelope was decoded, either
	// directly from a TEXT frame or from a completed zlib-stream payload.
	envelope *inboundEnvelope
	// ping carries the PING control frame's body; the caller must reply
	// with a PONG echoing it.
	ping []byte
	// pong indicates a PONG control frame was received; the caller should
	// stamp its liveness sample.
	pong bool
}

// frameCodec serializes outbound payloads and routes inbound frames by
// kind, per spec §4.3.
type frameCodec struct {
	serializer   Serializer
	deserializer Deserializer
	zlib         *zlibStream
}

func newFrameCodec(s Serializer, d Deserializer) *frameCodec {
	return &frameCodec{serializer: s, deserializer: d, zlib: newZlibStream()}
}

// Encode serializes v and rejects it if the encoding exceeds maxPayloadBytes.
func (fc *frameCodec) Encode(v any) ([]byte, error) {
	data, err := fc.serializer.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gatewire: encode payload: %w", err)
	}
	if len(data) > maxPayloadBytes {
		return nil, &gatewayerr.PayloadTooLargeError{Size: len(data)}
	}
	return data, nil
}

// Decode routes one inbound frame by its WebSocket opcode. TEXT frames are
// parsed directly; BINARY frames are fed through the zlib stream and
// parsed once a complete payload emerges (decodedFrame.envelope is nil
// until then, with a nil error — receive must continue). CLOSE frames are
// turned into a classified error via the closecode taxonomy.
func (fc *frameCodec) Decode(op ws.OpCode, data []byte) (*decodedFrame, error) {
	switch op {
	case ws.OpText:
		env, err := fc.unmarshalEnvelope(data)
		if err != nil {
			return nil, err
		}
		return &decodedFrame{envelope: env}, nil

	case ws.OpBinary:
		payload, complete, err := fc.zlib.Feed(data)
		if err != nil {
			return nil, err
		}
		if !complete {
			return &decodedFrame{}, nil
		}
		env, err := fc.unmarshalEnvelope(payload)
		if err != nil {
			return nil, err
		}
		return &decodedFrame{envelope: env}, nil

	case ws.OpPing:
		return &decodedFrame{ping: data}, nil

	case ws.OpPong:
		return &decodedFrame{pong: true}, nil

	case ws.OpClose:
		return nil, closeFrameError(data)

	default:
		return nil, &gatewayerr.ProtocolError{Reason: fmt.Sprintf("unexpected frame opcode %d", op)}
	}
}

func (fc *frameCodec) unmarshalEnvelope(data []byte) (*inboundEnvelope, error) {
	var env inboundEnvelope
	if err := fc.deserializer.Unmarshal(data, &env); err != nil {
		return nil, &gatewayerr.ProtocolError{Reason: "malformed envelope: " + err.Error()}
	}
	return &env, nil
}

// closeFrameError classifies a WebSocket CLOSE frame's body into the
// Gateway error taxonomy. The body, per RFC 6455 §5.5.1, is a 2-byte
// big-endian status code followed by an optional UTF-8 reason.
func closeFrameError(body []byte) error {
	if len(body) < 2 {
		return &gatewayerr.ConnectionClosedError{Code: closecode.Code(0)}
	}
	code := closecode.Code(int(body[0])<<8 | int(body[1]))
	reason := string(body[2:])

	switch code {
	case closecode.AuthenticationFailed:
		return gatewayerr.ErrInvalidToken
	case closecode.ShardingRequired:
		return gatewayerr.ErrNeedsSharding
	}
	return &gatewayerr.ConnectionClosedError{Code: code, Reason: reason}
}

/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package gateway

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// zlibSentinel marks the end of one flush-delimited unit in a zlib-stream
// transport: Discord flushes the compressor (Z_SYNC_FLUSH) after every
// message, which always appends these four bytes to the wire.
var zlibSentinel = [4]byte{0x00, 0x00, 0xff, 0xff}

// zlibStream owns one inflate context for the lifetime of a connection. It
// accepts contiguous compressed binary frames and, once the accumulated
// buffer ends with the sentinel, yields exactly one inflated payload.
//
// The inflate context is created lazily on the first Feed call and is never
// recreated for the life of the stream; only zlibStream itself is discarded
// on reconnect (Session.Connect builds a fresh frameCodec, and with it a
// fresh zlibStream, for every connection).
type zlibStream struct {
	mu  sync.Mutex
	buf *bytes.Buffer
	zr  io.ReadCloser
	dec *json.Decoder
}

func newZlibStream() *zlibStream {
	return &zlibStream{buf: new(bytes.Buffer)}
}

// Feed appends frame to the accumulation buffer. If the buffer now ends
// with the sentinel, it inflates everything accumulated since the previous
// payload and returns it with complete=true. Otherwise it returns
// complete=false and receive must continue accumulating.
//
// The decode boundary is located via a json.Decoder reading one top-level
// JSON value from the persistent zlib.Reader: since Gateway payloads are
// always a single JSON object per flush unit, the decoder stops exactly at
// the closing brace without requesting further input from the inflate
// context, which is what keeps the same *zlib.Reader usable across many
// Feed calls (asking it to read past an unflushed boundary would
// permanently fault the decompressor).
func (z *zlibStream) Feed(frame []byte) (payload []byte, complete bool, err error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.buf.Write(frame)
	if !endsWithSentinel(z.buf.Bytes()) {
		return nil, false, nil
	}

	if z.zr == nil {
		zr, err := zlib.NewReader(z.buf)
		if err != nil {
			return nil, false, fmt.Errorf("gatewire: zlib stream handshake: %w", err)
		}
		z.zr = zr
		z.dec = json.NewDecoder(zr)
	}

	var raw json.RawMessage
	if err := z.dec.Decode(&raw); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, fmt.Errorf("gatewire: zlib stream truncated: %w", err)
		}
		return nil, false, fmt.Errorf("gatewire: zlib stream inflate: %w", err)
	}
	return []byte(raw), true, nil
}

// Pending reports whether bytes have been accumulated since the last
// completed payload without yet seeing a sentinel. A connection that closes
// while this is true ended mid-payload.
func (z *zlibStream) Pending() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.buf.Len() > 0
}

// Close releases the inflate context. Safe to call on a stream that was
// never fed any data.
func (z *zlibStream) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.zr == nil {
		return nil
	}
	return z.zr.Close()
}

func endsWithSentinel(b []byte) bool {
	if len(b) < len(zlibSentinel) {
		return false
	}
	tail := b[len(b)-len(zlibSentinel):]
	return tail[0] == zlibSentinel[0] && tail[1] == zlibSentinel[1] &&
		tail[2] == zlibSentinel[2] && tail[3] == zlibSentinel[3]
}

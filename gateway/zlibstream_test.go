package gateway

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compressFlushed compresses each of msgs into the SAME zlib stream,
// flushing (Z_SYNC_FLUSH) after every message, and splits the whole stream
// into wire-sized chunks so tests can exercise multi-frame accumulation.
func compressFlushed(t *testing.T, msgs []string, chunkSize int) [][]byte {
	t.Helper()
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	for _, m := range msgs {
		_, err := zw.Write([]byte(m))
		require.NoError(t, err)
		require.NoError(t, zw.Flush())
	}
	require.NoError(t, zw.Close())

	all := out.Bytes()
	var frames [][]byte
	for len(all) > 0 {
		n := chunkSize
		if n > len(all) {
			n = len(all)
		}
		frames = append(frames, append([]byte(nil), all[:n]...))
		all = all[n:]
	}
	return frames
}

func TestZlibStream_SingleFramePerMessage(t *testing.T) {
	frames := compressFlushed(t, []string{`{"a":1}`, `{"b":2}`}, 1<<20)
	require.Len(t, frames, 2)

	zs := newZlibStream()
	payload, complete, err := zs.Feed(frames[0])
	require.NoError(t, err)
	require.True(t, complete)
	assert.JSONEq(t, `{"a":1}`, string(payload))

	payload, complete, err = zs.Feed(frames[1])
	require.NoError(t, err)
	require.True(t, complete)
	assert.JSONEq(t, `{"b":2}`, string(payload))
}

func TestZlibStream_MultiFrameAccumulation(t *testing.T) {
	// Force many small wire frames so one logical message spans several Feed calls.
	frames := compressFlushed(t, []string{`{"hello":"world","n":12345}`}, 6)
	require.Greater(t, len(frames), 1)

	zs := newZlibStream()
	var payload []byte
	var complete bool
	var err error
	for i, f := range frames {
		payload, complete, err = zs.Feed(f)
		require.NoError(t, err)
		if i < len(frames)-1 {
			assert.False(t, complete, "frame %d should not complete a payload", i)
			assert.True(t, zs.Pending())
		}
	}
	require.True(t, complete)
	assert.JSONEq(t, `{"hello":"world","n":12345}`, string(payload))
	assert.False(t, zs.Pending())
}

func TestZlibStream_IncompleteFrameDoesNotEmit(t *testing.T) {
	frames := compressFlushed(t, []string{`{"x":true}`}, 3)
	require.Greater(t, len(frames), 1)

	zs := newZlibStream()
	payload, complete, err := zs.Feed(frames[0])
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, payload)
	assert.True(t, zs.Pending())
}

func TestZlibStream_PersistsInflateContextAcrossManyMessages(t *testing.T) {
	msgs := []string{`{"i":0}`, `{"i":1}`, `{"i":2}`, `{"i":3}`}
	frames := compressFlushed(t, msgs, 1<<20)
	require.Len(t, frames, len(msgs))

	zs := newZlibStream()
	for i, f := range frames {
		payload, complete, err := zs.Feed(f)
		require.NoError(t, err)
		require.True(t, complete)
		assert.JSONEq(t, msgs[i], string(payload))
	}
}

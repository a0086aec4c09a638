/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package gateway

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/marouanesouiri/stdx/xlog"
)

// Dialer opens the WebSocket transport connection to url. The default
// implementation wraps github.com/gobwas/ws, matching the teacher stack,
// with autoping off and no transport-level compression (both delegated to
// this module, per spec §4.5's Dialing state).
type Dialer func(ctx context.Context, url string) (net.Conn, error)

func defaultDialer(ctx context.Context, url string) (net.Conn, error) {
	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctx, url)
	return conn, err
}

// Serializer encodes outbound command payloads.
type Serializer interface {
	Marshal(v any) ([]byte, error)
}

// Deserializer decodes inbound frame payloads.
type Deserializer interface {
	Unmarshal(data []byte, v any) error
}

// sonicCodec is the default Serializer/Deserializer, matching the teacher
// library's own JSON codec choice.
type sonicCodec struct{}

func (sonicCodec) Marshal(v any) ([]byte, error)      { return sonic.Marshal(v) }
func (sonicCodec) Unmarshal(data []byte, v any) error { return sonic.Unmarshal(data, v) }

// DispatchSink receives decoded Gateway events. It is called synchronously
// from the poll loop and must not block.
type DispatchSink func(s *Session, eventName string, payload json.RawMessage)

// noopDispatch is the default DispatchSink: it does nothing.
func noopDispatch(*Session, string, json.RawMessage) {}

// Config holds the immutable-at-construction parameters of a single shard's
// Gateway connection.
type Config struct {
	// Token is the opaque bot authentication token sent with IDENTIFY/RESUME.
	Token string
	// URL is the base WebSocket URL. The client appends
	// "?v=7&encoding=json" and, if Compression is set, "&compress=zlib-stream".
	URL string
	// ShardID and ShardCount identify this connection within a shard group.
	// Use 0/1 for an un-sharded bot.
	ShardID, ShardCount int
	// Compression selects the zlib-stream binary transport over plain text.
	Compression bool
	// LargeThreshold is the member-count threshold sent in IDENTIFY. Valid
	// range is 50-250; the server clamps higher values (the documented
	// default of 1000 included).
	LargeThreshold int
	// GuildSubscriptions controls server-side push filtering, sent verbatim
	// in IDENTIFY.
	GuildSubscriptions bool
	// ReceiveTimeout bounds a single frame receive and derives the ping
	// cadence (0.75 * ReceiveTimeout).
	ReceiveTimeout time.Duration
	// InitialPresence, if non-nil, is sent as the "presence" field of
	// IDENTIFY. Its shape is delegated to the embedder.
	InitialPresence any
	// Properties populates the "properties" object of IDENTIFY.
	Properties IdentifyProperties
	// Serializer/Deserializer form the injectable JSON codec pair. Defaults
	// to sonic, matching the teacher stack.
	Serializer   Serializer
	Deserializer Deserializer
	// Dispatch is called once per DISPATCH opcode with the event name and
	// raw payload. Defaults to a no-op.
	Dispatch DispatchSink
	// Logger receives structured connection-lifecycle logs. Defaults to a
	// text logger on stdout at Info level.
	Logger xlog.Logger
	// Dialer opens the transport connection. Overridable so tests can point
	// a Session at an in-memory net.Pipe instead of a real socket.
	Dialer Dialer
}

// Option configures a Config during construction.
type Option func(*Config)

// WithShard sets this connection's position within a shard group.
func WithShard(id, count int) Option {
	return func(c *Config) {
		c.ShardID = id
		c.ShardCount = count
	}
}

// WithCompression enables or disables zlib-stream compression.
func WithCompression(enabled bool) Option {
	return func(c *Config) { c.Compression = enabled }
}

// WithLargeThreshold sets the member-count threshold sent in IDENTIFY.
func WithLargeThreshold(n int) Option {
	return func(c *Config) { c.LargeThreshold = n }
}

// WithGuildSubscriptions sets the guild_subscriptions flag sent in IDENTIFY.
func WithGuildSubscriptions(enabled bool) Option {
	return func(c *Config) { c.GuildSubscriptions = enabled }
}

// WithReceiveTimeout sets the hard deadline on a single frame receive.
func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReceiveTimeout = d }
}

// WithInitialPresence sets the presence payload sent alongside IDENTIFY.
func WithInitialPresence(presence any) Option {
	return func(c *Config) { c.InitialPresence = presence }
}

// WithProperties sets the IDENTIFY "properties" object.
func WithProperties(p IdentifyProperties) Option {
	return func(c *Config) { c.Properties = p }
}

// WithCodec overrides the JSON Serializer/Deserializer pair.
func WithCodec(s Serializer, d Deserializer) Option {
	return func(c *Config) {
		c.Serializer = s
		c.Deserializer = d
	}
}

// WithDispatch sets the sink invoked for every decoded DISPATCH event.
func WithDispatch(sink DispatchSink) Option {
	return func(c *Config) { c.Dispatch = sink }
}

// WithLogger sets the logger used throughout the connection's lifecycle.
func WithLogger(logger xlog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithDialer overrides the transport dialer. Intended for tests.
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// newConfig builds a Config with defaults, then applies opts in order.
func newConfig(token, url string, opts ...Option) Config {
	cfg := Config{
		Token:          token,
		URL:            url,
		ShardCount:     1,
		LargeThreshold: 1000,
		ReceiveTimeout: 45 * time.Second,
		Serializer:     sonicCodec{},
		Deserializer:   sonicCodec{},
		Dispatch:       noopDispatch,
		Logger:         xlog.NewTextLogger(os.Stdout, xlog.LogLevelInfoLevel),
		Dialer:         defaultDialer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

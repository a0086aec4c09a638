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
	"time"

	"github.com/gobwas/ws"

	"github.com/nullshard/gatewire/gatewayerr"
)

// pingKeepalive sends a WebSocket-level ping every 0.75 * ReceiveTimeout,
// independent of the Gateway heartbeat. It exists to keep intermediate
// proxies and load balancers from treating the connection as idle.
func (s *Session) pingKeepalive(ctx context.Context) error {
	interval := time.Duration(float64(s.cfg.ReceiveTimeout) * 0.75)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.write(ctx, ws.OpPing, nil); err != nil {
				return err
			}
			s.state.lastPingSent.set(time.Now())
		}
	}
}

// heartbeatKeepalive sends opcode-1 HEARTBEAT frames at the interval HELLO
// announced. Before each send it checks that the previous heartbeat was
// acknowledged; a missed ack raises ErrZombied rather than sending another
// heartbeat into a connection the server has stopped answering on.
func (s *Session) heartbeatKeepalive(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		if !s.state.ackIsCurrent() {
			return gatewayerr.ErrZombied
		}
		if err := s.sendHeartbeat(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) sendHeartbeat(ctx context.Context) error {
	var seq any
	if n := s.state.Seq(); n > 0 {
		seq = n
	}
	data, err := s.codec.Encode(outboundEnvelope{Op: OpHeartbeat, D: seq})
	if err != nil {
		return err
	}
	if err := s.write(ctx, ws.OpText, data); err != nil {
		return err
	}
	s.state.lastHeartbeatSent.set(time.Now())
	return nil
}

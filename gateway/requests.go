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
	"fmt"
)

func (s *Session) sendIdentify(ctx context.Context) error {
	var presence json.RawMessage
	if s.cfg.InitialPresence != nil {
		data, err := s.cfg.Serializer.Marshal(s.cfg.InitialPresence)
		if err != nil {
			return fmt.Errorf("gatewire: marshal initial presence: %w", err)
		}
		presence = data
	}

	payload := identifyData{
		Token:              s.cfg.Token,
		Compress:           false,
		LargeThreshold:     s.cfg.LargeThreshold,
		Properties:         s.cfg.Properties,
		GuildSubscriptions: s.cfg.GuildSubscriptions,
		Shard:              [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Presence:           presence,
	}
	return s.sendEnvelope(ctx, OpIdentify, payload)
}

func (s *Session) sendResume(ctx context.Context) error {
	payload := resumeData{
		Token:     s.cfg.Token,
		SessionID: s.state.SessionID(),
		Seq:       s.state.Seq(),
	}
	return s.sendEnvelope(ctx, OpResume, payload)
}

// sendHeartbeatReply answers a server-requested heartbeat (opcode 1 received
// from the Gateway) with a bare opcode-11 HEARTBEAT_ACK carrying no data,
// per the source material's literal handling of that request.
func (s *Session) sendHeartbeatReply(ctx context.Context) error {
	return s.sendEnvelope(ctx, OpHeartbeatACK, nil)
}

// RequestGuildMembersOptions selects which members an opcode-8
// REQUEST_GUILD_MEMBERS command asks the Gateway to push. Exactly one of
// UserIDs or Query (with Limit) should be set; UserIDs takes precedence if
// both are.
type RequestGuildMembersOptions struct {
	UserIDs []string
	Query   string
	Limit   int
}

// RequestGuildMembers asks the Gateway to dispatch GUILD_MEMBERS_CHUNK
// events for the given guilds. The outbound frame is correctly nested under
// the "d" envelope field; the source material this protocol was distilled
// from omits that envelope entirely, which DESIGN.md records as a corrected
// Open Question rather than a faithfully reproduced bug.
func (s *Session) RequestGuildMembers(ctx context.Context, guildIDs []string, opts RequestGuildMembersOptions) error {
	data := requestGuildMembersData{GuildID: guildIDs}
	if len(opts.UserIDs) > 0 {
		data.UserIDs = opts.UserIDs
	} else {
		query := opts.Query
		limit := opts.Limit
		data.Query = &query
		data.Limit = &limit
	}
	return s.sendEnvelope(ctx, OpRequestGuildMembers, data)
}

// PresenceUpdate is the embedder-facing shape of an UPDATE_STATUS command.
// Game is serialized through the Session's Serializer as-is; its own shape
// is left to the embedder, matching Properties/InitialPresence elsewhere in
// this package.
type PresenceUpdate struct {
	IdleSince *int64
	Status    string
	Game      any
	AFK       bool
}

// UpdateStatus sends a presence update. Like RequestGuildMembers, the
// outbound frame is correctly wrapped in the op/d envelope; only the field
// names (idle, status, game, afk) are carried over verbatim from the source
// material, since changing them would silently break compatibility with
// whatever gateway the source material's presence shape was written against.
func (s *Session) UpdateStatus(ctx context.Context, presence PresenceUpdate) error {
	var game json.RawMessage
	if presence.Game != nil {
		data, err := s.cfg.Serializer.Marshal(presence.Game)
		if err != nil {
			return fmt.Errorf("gatewire: marshal presence game: %w", err)
		}
		game = data
	}
	payload := presenceUpdateData{
		Idle:   presence.IdleSince,
		Status: presence.Status,
		Game:   game,
		AFK:    presence.AFK,
	}
	return s.sendEnvelope(ctx, OpPresenceUpdate, payload)
}

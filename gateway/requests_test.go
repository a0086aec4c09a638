package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestGuildMembersData_QueryShapeHasOpDEnvelope(t *testing.T) {
	query := "joh"
	limit := 5
	payload := requestGuildMembersData{
		GuildID: []string{"1", "2"},
		Query:   &query,
		Limit:   &limit,
	}
	env := outboundEnvelope{Op: OpRequestGuildMembers, D: payload}

	data, err := (sonicCodec{}).Marshal(env)
	require.NoError(t, err)

	var decoded struct {
		Op Opcode `json:"op"`
		D  struct {
			GuildID []string `json:"guild_id"`
			Query   string   `json:"query"`
			Limit   int      `json:"limit"`
		} `json:"d"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, OpRequestGuildMembers, decoded.Op)
	assert.Equal(t, []string{"1", "2"}, decoded.D.GuildID)
	assert.Equal(t, "joh", decoded.D.Query)
	assert.Equal(t, 5, decoded.D.Limit)
}

func TestRequestGuildMembersData_UserIDsShapeOmitsQueryAndLimit(t *testing.T) {
	payload := requestGuildMembersData{
		GuildID: []string{"1"},
		UserIDs: []string{"42"},
	}
	data, err := (sonicCodec{}).Marshal(payload)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasQuery := raw["query"]
	_, hasLimit := raw["limit"]
	assert.False(t, hasQuery)
	assert.False(t, hasLimit)
}

func TestPresenceUpdateData_FieldNamesMatchSourceShape(t *testing.T) {
	idle := int64(1000)
	payload := presenceUpdateData{
		Idle:   &idle,
		Status: "online",
		Game:   json.RawMessage(`{"name":"chess"}`),
		AFK:    true,
	}
	env := outboundEnvelope{Op: OpPresenceUpdate, D: payload}

	data, err := (sonicCodec{}).Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"op":3,"d":{"idle":1000,"status":"online","game":{"name":"chess"},"afk":true}}`,
		string(data),
	)
}

func TestIdentifyData_AlwaysSendsShardArray(t *testing.T) {
	payload := identifyData{
		Token:          "T",
		Compress:       false,
		LargeThreshold: 1000,
		Shard:          [2]int{0, 1},
	}
	data, err := (sonicCodec{}).Marshal(payload)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `[0,1]`, string(raw["shard"]))
}

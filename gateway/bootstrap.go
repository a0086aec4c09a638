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
	"io"
	"net/http"
)

const (
	apiVersion = "v10"
	baseAPIURL = "https://discord.com/api/" + apiVersion
)

// SessionStartLimit is the Gateway's bootstrap budget: how many IDENTIFYs
// remain in the current window, and when that window resets.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfterMs   int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// BotGateway is the response of GET /gateway/bot: the recommended URL and
// shard count for this token, plus its current session start budget.
type BotGateway struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// BootstrapRequester fetches the recommended Gateway URL and shard count
// for a token, ahead of opening any Session. It is deliberately a single
// endpoint, not the full REST surface: the teacher's bucket-aware
// rate-limited requester is out of scope here (see DESIGN.md).
type BootstrapRequester struct {
	httpClient *http.Client
	baseURL    string
}

// NewBootstrapRequester builds a BootstrapRequester using http.DefaultClient.
func NewBootstrapRequester() *BootstrapRequester {
	return &BootstrapRequester{httpClient: http.DefaultClient, baseURL: baseAPIURL}
}

// GetBotGateway calls GET /gateway/bot with the given bot token.
func (r *BootstrapRequester) GetBotGateway(ctx context.Context, token string) (*BotGateway, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/gateway/bot", nil)
	if err != nil {
		return nil, fmt.Errorf("gatewire: build bootstrap request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gatewire: bootstrap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gatewire: bootstrap request returned %d: %s", resp.StatusCode, body)
	}

	var out BotGateway
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gatewire: decode bootstrap response: %w", err)
	}
	return &out, nil
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Profile is one VPN profile advertised by a server portal.
type Profile struct {
	ID          string `json:"profile_id"`
	DisplayName string `json:"display_name"`
}

type profileListResponse struct {
	ProfileList struct {
		Data []Profile `json:"data"`
		OK   bool      `json:"ok"`
	} `json:"profile_list"`
}

// ProfileList fetches the profiles the authenticated user may use.
func (c *Client) ProfileList(ctx context.Context, base, token string) ([]Profile, error) {
	_, body, err := c.do(ctx, "profile list", http.MethodGet, endpoint(base, "profile_list"), token, nil)
	if err != nil {
		return nil, err
	}

	var parsed profileListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse profile list response: %w", err)
	}
	if !parsed.ProfileList.OK {
		return nil, fmt.Errorf("server refused profile list")
	}
	return parsed.ProfileList.Data, nil
}

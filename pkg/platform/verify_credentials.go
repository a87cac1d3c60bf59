package platform

import (
	"context"
	"encoding/json"
	"fmt"
)

// VerifyCredentials fetches the authenticated account's identity. Used as a
// liveness check after connecting or refreshing an account.
func (c *Client) VerifyCredentials(ctx context.Context) (*User, error) {
	resp, err := c.makeRequest(ctx, "GET", c.config.MeEndpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return nil, err
	}

	var userResponse UserResponse
	if err := json.NewDecoder(resp.Body).Decode(&userResponse); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if userResponse.Data == nil {
		return nil, fmt.Errorf("empty user response")
	}

	return userResponse.Data, nil
}

package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/npezzotti/go-presence/internal/types"
)

const requestTimeout = 10 * time.Second

// Client fetches REST-sourced presence from the marketplace backend.
// Its results are only ever fallback input: the presence store's
// arbitration keeps them subordinate to realtime data.
type Client struct {
	baseURL string
	http    *http.Client
	log     *log.Logger
}

func NewClient(baseURL string, logger *log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logger,
	}
}

// UserPresence fetches the cached presence for one user.
func (c *Client) UserPresence(ctx context.Context, token string, userId int) (types.RestPresence, error) {
	url := fmt.Sprintf("%s/api/users/%d/presence", c.baseURL, userId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.RestPresence{}, fmt.Errorf("build presence request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.RestPresence{}, fmt.Errorf("fetch presence: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.RestPresence{}, fmt.Errorf("fetch presence: unexpected status %d", resp.StatusCode)
	}

	var presence types.RestPresence
	if err := json.NewDecoder(resp.Body).Decode(&presence); err != nil {
		return types.RestPresence{}, fmt.Errorf("decode presence response: %w", err)
	}

	return presence, nil
}

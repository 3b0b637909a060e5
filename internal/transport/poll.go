package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/jobpilot/internal/domain"
)

// FetchJobs retrieves the authoritative applied/rejected snapshot for a user.
// Failures are recoverable: the poll loop logs and retries on the next tick.
func (c *Client) FetchJobs(ctx context.Context, userID string) (domain.JobState, error) {
	endpoint := c.baseURL + "/api/jobs/" + url.PathEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.JobState{}, fmt.Errorf("build jobs request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.JobState{}, fmt.Errorf("fetch jobs: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close jobs response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return domain.JobState{}, fmt.Errorf("read jobs response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.JobState{}, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var snap domain.JobState
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.JobState{}, fmt.Errorf("decode jobs snapshot: %w", err)
	}
	return snap, nil
}

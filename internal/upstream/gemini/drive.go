package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

const defaultDriveAboutURL = "https://www.googleapis.com/drive/v3/about?fields=storageQuota"

// ErrDriveUnauthorized is returned when the token lacks Drive scope; the
// verifier falls back to its probing heuristic.
type driveUnauthorizedError struct{ status int }

func (e *driveUnauthorizedError) Error() string {
	return fmt.Sprintf("drive about: status %d", e.status)
}

func IsDriveUnauthorized(err error) bool {
	_, ok := err.(*driveUnauthorizedError)
	return ok
}

// DriveStorageLimit returns the account's Drive storage quota limit in bytes.
// Workspace (pro) accounts report 2 TiB or more.
func (c *Client) DriveStorageLimit(ctx context.Context, accessToken string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.driveAboutURL, nil)
	if err != nil {
		return 0, fmt.Errorf("drive about: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("drive about: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return 0, &driveUnauthorizedError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("drive about: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("drive about: read body: %w", err)
	}
	limitStr := gjson.GetBytes(body, "storageQuota.limit").String()
	if limitStr == "" {
		return 0, fmt.Errorf("drive about: no storageQuota.limit in response")
	}
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("drive about: parse limit %q: %w", limitStr, err)
	}
	return limit, nil
}

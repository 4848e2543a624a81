package squadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GetAccessToken exchanges a refresh token for a bearer access token using the
// X-Refresh-Token flow.
func GetAccessToken(ctx context.Context, httpc *http.Client, authURL, refreshToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Refresh-Token", refreshToken)
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: preview(body)}
	}
	var payload struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("invalid auth response: %w", err)
	}
	token := payload.Data.AccessToken
	if token == "" {
		token = payload.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("auth response missing access_token")
	}
	return token, nil
}

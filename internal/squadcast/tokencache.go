package squadcast

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpirySlack refuses cached tokens this close to expiry.
const tokenExpirySlack = 60 * time.Second

// TokenCache stores the last issued access token in the workspace so repeated
// invocations skip the refresh exchange while the token is still valid.
// Access tokens are JWTs; expiry comes from the exp claim without verifying
// the signature (the vendor verifies it, we only schedule around it).
type TokenCache struct {
	Path string
	Now  func() time.Time
}

type cachedToken struct {
	AccessToken string `json:"access_token"`
	SavedAt     string `json:"saved_at"`
}

// Load returns the cached token if one exists and is not about to expire.
func (c TokenCache) Load() (string, bool) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return "", false
	}
	var entry cachedToken
	if err := json.Unmarshal(data, &entry); err != nil || entry.AccessToken == "" {
		return "", false
	}
	if !c.stillValid(entry.AccessToken) {
		return "", false
	}
	return entry.AccessToken, true
}

// Save writes the token next to the workspace database.
func (c TokenCache) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return err
	}
	now := c.now()
	data, err := json.Marshal(cachedToken{
		AccessToken: token,
		SavedAt:     now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o600)
}

func (c TokenCache) stillValid(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.After(c.now().Add(tokenExpirySlack))
}

func (c TokenCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

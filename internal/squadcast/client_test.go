package squadcast_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sqanalyze/internal/export"
	"sqanalyze/internal/squadcast"
)

func TestExportURLParamOrder(t *testing.T) {
	c := squadcast.NewClient("https://api.example.com/v3/", "tok")
	got := c.ExportURL(export.Query{
		Start:      "2024-01-01T00:00:00Z",
		End:        "2024-01-02T00:00:00Z",
		OwnerID:    "team-1",
		AssignedTo: "user-1",
		Tags:       "env=prod",
		Status:     "triggered",
		Format:     export.FormatJSON,
	})
	want := "https://api.example.com/v3/incidents/export" +
		"?type=json" +
		"&start_time=2024-01-01T00%3A00%3A00Z" +
		"&end_time=2024-01-02T00%3A00%3A00Z" +
		"&owner_id=team-1" +
		"&assigned_to=user-1" +
		"&tags=env%3Dprod" +
		"&status=triggered"
	if got != want {
		t.Fatalf("url = %s\nwant %s", got, want)
	}
}

func TestExportURLOmitsEmptyFilters(t *testing.T) {
	c := squadcast.NewClient("https://api.example.com/v3", "tok")
	got := c.ExportURL(export.Query{
		Start:  "2024-01-01T00:00:00Z",
		End:    "2024-01-02T00:00:00Z",
		Format: export.FormatCSV,
	})
	for _, banned := range []string{"owner_id", "assigned_to", "tags", "status"} {
		if strings.Contains(got, banned) {
			t.Fatalf("url contains empty filter %s: %s", banned, got)
		}
	}
}

func TestExportSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/csv" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte("id\n1\n"))
	}))
	defer srv.Close()

	c := squadcast.NewClient(srv.URL, "tok")
	data, err := c.Export(context.Background(), export.Query{
		Start: "2024-01-01T00:00:00Z", End: "2024-01-02T00:00:00Z", Format: export.FormatCSV,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(data) != "id\n1\n" {
		t.Fatalf("payload = %q", data)
	}
}

func TestExportErrorPreviewBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(strings.Repeat("x", 10000)))
	}))
	defer srv.Close()

	c := squadcast.NewClient(srv.URL, "tok")
	_, err := c.Export(context.Background(), export.Query{
		Start: "2024-01-01T00:00:00Z", End: "2024-01-02T00:00:00Z", Format: export.FormatJSON,
	})
	apiErr, ok := err.(*squadcast.APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", apiErr.StatusCode)
	}
	if len(apiErr.Body) != 4000 {
		t.Fatalf("preview length = %d, want 4000", len(apiErr.Body))
	}
}

func TestGetAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Refresh-Token"); got != "refresh-me" {
			t.Errorf("X-Refresh-Token = %q", got)
		}
		w.Write([]byte(`{"data":{"access_token":"fresh-token"}}`))
	}))
	defer srv.Close()

	token, err := squadcast.GetAccessToken(context.Background(), srv.Client(), srv.URL, "refresh-me")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if token != "fresh-token" {
		t.Fatalf("token = %q", token)
	}
}

func TestGetAccessTokenTopLevelShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"flat-token"}`))
	}))
	defer srv.Close()

	token, err := squadcast.GetAccessToken(context.Background(), srv.Client(), srv.URL, "refresh-me")
	if err != nil || token != "flat-token" {
		t.Fatalf("token = %q err = %v", token, err)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTokenCacheRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := squadcast.TokenCache{
		Path: filepath.Join(t.TempDir(), "token.json"),
		Now:  func() time.Time { return now },
	}
	token := signedToken(t, now.Add(time.Hour))
	if err := cache.Save(token); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := cache.Load()
	if !ok || got != token {
		t.Fatalf("load = %q, %v", got, ok)
	}
}

func TestTokenCacheRejectsExpiring(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := squadcast.TokenCache{
		Path: filepath.Join(t.TempDir(), "token.json"),
		Now:  func() time.Time { return now },
	}
	// within the expiry slack
	if err := cache.Save(signedToken(t, now.Add(30*time.Second))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := cache.Load(); ok {
		t.Fatal("expiring token accepted")
	}
}

func TestTokenCacheRejectsOpaqueToken(t *testing.T) {
	cache := squadcast.TokenCache{Path: filepath.Join(t.TempDir(), "token.json")}
	if err := cache.Save("not-a-jwt"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := cache.Load(); ok {
		t.Fatal("opaque token accepted")
	}
}

func TestTokenCacheMissingFile(t *testing.T) {
	cache := squadcast.TokenCache{Path: filepath.Join(t.TempDir(), "token.json")}
	if _, ok := cache.Load(); ok {
		t.Fatal("load from missing file succeeded")
	}
}

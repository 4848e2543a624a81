// Package store persists raw export artifacts under the workspace and records
// them in the SQLite catalog.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqanalyze/internal/domain"
	"sqanalyze/internal/export"
	"sqanalyze/internal/records"
	"sqanalyze/internal/repo"
)

const stampLayout = "20060102T150405Z"

// Store writes artifacts to <workspace>/data/raw and catalogs them.
type Store struct {
	Workspace string
	Repo      repo.Repo
	Now       func() time.Time
}

// RawDir returns the artifact directory for a workspace.
func RawDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "data", "raw")
}

// SaveExport writes the merged payload to disk and inserts a catalog row.
func (s Store) SaveExport(ctx context.Context, req export.Request, format export.Format, res export.Result) (domain.Export, error) {
	dir := RawDir(s.Workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Export{}, err
	}
	now := s.now().UTC()
	name := fmt.Sprintf("incidents_%s.%s", now.Format(stampLayout), format)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return domain.Export{}, err
	}

	e := domain.Export{
		ID:             uuid.NewString(),
		CreatedAt:      now.Format(time.RFC3339),
		Format:         string(format),
		StartTime:      req.Start,
		EndTime:        req.End,
		OwnerID:        req.OwnerID,
		AssignedTo:     req.AssignedTo,
		Tags:           req.Tags,
		Statuses:       export.NormalizeStatuses(req.Statuses),
		Path:           path,
		Bytes:          int64(len(res.Data)),
		RecordCount:    countRecords(format, res.Data),
		HeaderMismatch: res.HeaderMismatch,
	}
	if err := s.Repo.InsertExport(ctx, e); err != nil {
		return domain.Export{}, fmt.Errorf("catalog export: %w", err)
	}
	return e, nil
}

// countRecords is best-effort; a payload that cannot be counted is cataloged
// with a null count rather than failing the save.
func countRecords(format export.Format, data []byte) *int {
	var n int
	switch format {
	case export.FormatJSON:
		recs, err := records.FromJSON(data)
		if err != nil {
			return nil
		}
		n = len(recs)
	case export.FormatCSV:
		text := strings.TrimSpace(string(data))
		if text == "" {
			n = 0
			break
		}
		n = len(strings.Split(text, "\n")) - 1
	default:
		return nil
	}
	return &n
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

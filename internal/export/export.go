// Package export implements the multi-status incident export. The vendor API
// accepts a single status per request, so a request for several statuses is
// issued as one backend call per status and the partial payloads are merged
// deterministically into one JSON or CSV output.
package export

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"sqanalyze/internal/records"
)

// Format selects the export payload encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", ConfigError{Msg: "type must be 'json' or 'csv'"}
	}
}

// Request describes one logical export: a time window plus optional filters.
// Statuses may hold any number of entries; they are normalized before use.
type Request struct {
	Start      string
	End        string
	OwnerID    string
	AssignedTo string
	Tags       string
	Statuses   []string
}

// Query is what a backend call actually carries: the request filters with at
// most one status value.
type Query struct {
	Start      string
	End        string
	OwnerID    string
	AssignedTo string
	Tags       string
	Status     string
	Format     Format
}

// Backend performs one single-status export call against the vendor API.
type Backend interface {
	Export(ctx context.Context, q Query) ([]byte, error)
}

// Result is the merged export output. HeaderMismatch is set when a CSV merge
// kept a mismatched partial verbatim instead of dropping its header line.
type Result struct {
	Data           []byte
	HeaderMismatch bool
}

// Exporter issues sequential backend calls and merges the partial results.
type Exporter struct {
	Backend Backend
	Log     *zerolog.Logger
}

// NormalizeStatuses trims entries, splits comma-joined values, lower-cases,
// drops empties, and deduplicates preserving first-occurrence order.
func NormalizeStatuses(statuses []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range statuses {
		for _, part := range strings.Split(raw, ",") {
			s := strings.ToLower(strings.TrimSpace(part))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

type partial struct {
	status string
	data   []byte
}

// Export runs the request. With zero or one status the single backend payload
// is returned unchanged; with more, the per-status payloads are merged. Any
// backend failure aborts the loop before the next call is issued.
func (e Exporter) Export(ctx context.Context, req Request, format Format) (Result, error) {
	if strings.TrimSpace(req.Start) == "" || strings.TrimSpace(req.End) == "" {
		return Result{}, ConfigError{Msg: "start and end times are required"}
	}
	statuses := NormalizeStatuses(req.Statuses)

	if len(statuses) <= 1 {
		status := ""
		if len(statuses) == 1 {
			status = statuses[0]
		}
		data, err := e.call(ctx, req, status, format)
		if err != nil {
			return Result{}, err
		}
		return Result{Data: data}, nil
	}

	partials := make([]partial, 0, len(statuses))
	for _, status := range statuses {
		if err := ctx.Err(); err != nil {
			return Result{}, &RequestError{Status: status, Err: err}
		}
		data, err := e.call(ctx, req, status, format)
		if err != nil {
			return Result{}, err
		}
		partials = append(partials, partial{status: status, data: data})
	}

	if format == FormatCSV {
		merged, mismatch := mergeCSV(partials)
		return Result{Data: merged, HeaderMismatch: mismatch}, nil
	}
	merged, err := mergeJSON(partials)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: merged}, nil
}

func (e Exporter) call(ctx context.Context, req Request, status string, format Format) ([]byte, error) {
	if e.Log != nil {
		e.Log.Debug().Str("status", status).Str("format", string(format)).Msg("export call")
	}
	data, err := e.Backend.Export(ctx, Query{
		Start:      req.Start,
		End:        req.End,
		OwnerID:    req.OwnerID,
		AssignedTo: req.AssignedTo,
		Tags:       req.Tags,
		Status:     status,
		Format:     format,
	})
	if err != nil {
		return nil, &RequestError{Status: status, Err: err}
	}
	return data, nil
}

// mergeJSON concatenates the record lists extracted from each partial payload,
// in call order, and re-wraps them in a {"data": [...]} envelope.
func mergeJSON(partials []partial) ([]byte, error) {
	var merged []any
	for _, p := range partials {
		var payload any
		if err := json.Unmarshal(p.data, &payload); err != nil {
			return nil, &ResponseError{Status: p.status, Err: err}
		}
		merged = append(merged, records.Unwrap(payload)...)
	}
	if merged == nil {
		merged = []any{}
	}
	return json.Marshal(struct {
		Data []any `json:"data"`
	}{Data: merged})
}

// mergeCSV keeps the first non-empty partial's header and appends data lines
// from the rest. A partial whose header differs is kept verbatim, header
// included, rather than silently discarded; the caller is told via the
// mismatch flag that the merged table may have an inconsistent shape.
// Partials are trimmed of surrounding whitespace before splitting, so a
// payload opening with blank lines contributes its first non-blank line as
// the header instead of an empty one.
func mergeCSV(partials []partial) ([]byte, bool) {
	var header string
	var rows []string
	mismatch := false
	haveHeader := false
	for _, p := range partials {
		text := strings.TrimSpace(string(p.data))
		if text == "" {
			continue
		}
		lines := splitLines(text)
		if !haveHeader {
			header = lines[0]
			rows = append(rows, lines[1:]...)
			haveHeader = true
			continue
		}
		if lines[0] == header {
			rows = append(rows, lines[1:]...)
		} else {
			rows = append(rows, lines...)
			mismatch = true
		}
	}
	if !haveHeader {
		return []byte{}, false
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return []byte(b.String()), mismatch
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

// Package analyze flattens nested incident records into a tabular form and
// computes top-N frequency counts over any column.
package analyze

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// UnknownBucket is the group value used for rows missing the grouped column.
const UnknownBucket = "unknown"

// ConfigError indicates invalid analysis input (e.g. a non-positive top-N).
type ConfigError struct {
	Msg string
}

func (e ConfigError) Error() string { return e.Msg }

// FieldNotFoundError is returned when a group-by field matches no column. The
// available columns are attached so the caller can correct the request.
type FieldNotFoundError struct {
	Field   string
	Columns []string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q not found; available: %s", e.Field, strings.Join(e.Columns, ", "))
}

// Table is a batch of flattened records. Columns is the sorted union of every
// leaf path observed across the batch; rows missing a column simply lack the
// key, which reads back as nil.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// GroupCount is one (value, count) pair of a top-N result.
type GroupCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Flatten converts records into a Table. Nested objects contribute
// dot-joined column names; arrays are serialized as one compact-JSON scalar
// so the column set stays stable regardless of array length. A record that is
// itself a scalar or array lands under the "value" column.
func Flatten(recs []any) Table {
	rows := make([]map[string]any, 0, len(recs))
	colSet := map[string]bool{}
	for _, rec := range recs {
		row := map[string]any{}
		flattenInto("", rec, row)
		for col := range row {
			colSet[col] = true
		}
		rows = append(rows, row)
	}
	cols := make([]string, 0, len(colSet))
	for col := range colSet {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return Table{Columns: cols, Rows: rows}
}

func flattenInto(prefix string, v any, row map[string]any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(joinPath(prefix, k), child, row)
		}
	case []any:
		b, _ := json.Marshal(t)
		row[leafName(prefix)] = string(b)
	default:
		row[leafName(prefix)] = t
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func leafName(prefix string) string {
	if prefix == "" {
		return "value"
	}
	return prefix
}

// ResolveColumn maps a user-supplied field name to a column: exact match
// first, then any column whose final path segment equals the field
// case-insensitively. An ambiguous match resolves to the first candidate in
// column order.
func ResolveColumn(columns []string, field string) (string, error) {
	for _, col := range columns {
		if col == field {
			return col, nil
		}
	}
	lowered := strings.ToLower(field)
	for _, col := range columns {
		segs := strings.Split(col, ".")
		if strings.ToLower(segs[len(segs)-1]) == lowered {
			return col, nil
		}
	}
	return "", &FieldNotFoundError{Field: field, Columns: columns}
}

// TopCounts counts distinct values of the resolved column, sorted by count
// descending with ties broken by first appearance among rows, truncated to
// topN. Missing and null cells are counted under the "unknown" bucket.
func TopCounts(t Table, groupBy string, topN int) ([]GroupCount, error) {
	if topN <= 0 {
		return nil, ConfigError{Msg: "top must be a positive integer"}
	}
	col, err := ResolveColumn(t.Columns, groupBy)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	firstSeen := map[string]int{}
	var order []string
	for i, row := range t.Rows {
		value := formatCell(row[col])
		if _, ok := counts[value]; !ok {
			firstSeen[value] = i
			order = append(order, value)
		}
		counts[value]++
	}
	result := make([]GroupCount, 0, len(order))
	for _, value := range order {
		result = append(result, GroupCount{Value: value, Count: counts[value]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return firstSeen[result[i].Value] < firstSeen[result[j].Value]
	})
	if len(result) > topN {
		result = result[:topN]
	}
	return result, nil
}

// CountsCSV renders a top-N result as a two-column CSV document.
func CountsCSV(groupBy string, counts []GroupCount) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{groupBy, "count"})
	for _, gc := range counts {
		_ = w.Write([]string{gc.Value, strconv.Itoa(gc.Count)})
	}
	w.Flush()
	return buf.Bytes()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return UnknownBucket
	case string:
		if t == "" {
			return UnknownBucket
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

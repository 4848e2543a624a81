package analyze_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"sqanalyze/internal/analyze"
)

func TestFlattenUnionColumns(t *testing.T) {
	tbl := analyze.Flatten([]any{
		map[string]any{"a": map[string]any{"b": 1.0}},
		map[string]any{"a": map[string]any{"c": 2.0}},
	})
	if !reflect.DeepEqual(tbl.Columns, []string{"a.b", "a.c"}) {
		t.Fatalf("columns = %v", tbl.Columns)
	}
	if tbl.Rows[0]["a.b"] != 1.0 || tbl.Rows[0]["a.c"] != nil {
		t.Fatalf("row 0 = %v", tbl.Rows[0])
	}
	if tbl.Rows[1]["a.c"] != 2.0 || tbl.Rows[1]["a.b"] != nil {
		t.Fatalf("row 1 = %v", tbl.Rows[1])
	}
}

func TestFlattenArraysSerialized(t *testing.T) {
	tbl := analyze.Flatten([]any{
		map[string]any{"tags": []any{"x", "y"}, "n": 1.0},
	})
	if tbl.Rows[0]["tags"] != `["x","y"]` {
		t.Fatalf("array column = %v", tbl.Rows[0]["tags"])
	}
}

func TestFlattenOpaqueRecord(t *testing.T) {
	tbl := analyze.Flatten([]any{"just a string"})
	if !reflect.DeepEqual(tbl.Columns, []string{"value"}) {
		t.Fatalf("columns = %v", tbl.Columns)
	}
	if tbl.Rows[0]["value"] != "just a string" {
		t.Fatalf("row = %v", tbl.Rows[0])
	}
}

func rowsWith(col string, values ...any) analyze.Table {
	rows := make([]map[string]any, 0, len(values))
	for _, v := range values {
		rows = append(rows, map[string]any{col: v})
	}
	return analyze.Table{Columns: []string{col}, Rows: rows}
}

func TestTopCounts(t *testing.T) {
	tbl := rowsWith("service", "x", "y", "x", "z", "x", "y")
	counts, err := analyze.TopCounts(tbl, "service", 2)
	if err != nil {
		t.Fatalf("TopCounts: %v", err)
	}
	want := []analyze.GroupCount{{Value: "x", Count: 3}, {Value: "y", Count: 2}}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
}

func TestTopCountsTiesByFirstAppearance(t *testing.T) {
	tbl := rowsWith("service", "b", "a", "b", "a", "c")
	counts, err := analyze.TopCounts(tbl, "service", 10)
	if err != nil {
		t.Fatalf("TopCounts: %v", err)
	}
	want := []analyze.GroupCount{{Value: "b", Count: 2}, {Value: "a", Count: 2}, {Value: "c", Count: 1}}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
}

func TestSmartMatchNestedColumn(t *testing.T) {
	tbl := analyze.Flatten([]any{
		map[string]any{"payload": map[string]any{"service": "api"}},
		map[string]any{"payload": map[string]any{"service": "api"}},
		map[string]any{"payload": map[string]any{"service": "db"}},
	})
	counts, err := analyze.TopCounts(tbl, "service", 5)
	if err != nil {
		t.Fatalf("TopCounts: %v", err)
	}
	if counts[0].Value != "api" || counts[0].Count != 2 {
		t.Fatalf("counts = %v", counts)
	}
	col, err := analyze.ResolveColumn(tbl.Columns, "Service")
	if err != nil || col != "payload.service" {
		t.Fatalf("case-insensitive match failed: %v %v", col, err)
	}
}

func TestSmartMatchAmbiguousPicksFirstColumn(t *testing.T) {
	tbl := analyze.Flatten([]any{
		map[string]any{
			"a": map[string]any{"service": "api"},
			"b": map[string]any{"service": "db"},
		},
	})
	col, err := analyze.ResolveColumn(tbl.Columns, "service")
	if err != nil {
		t.Fatalf("ResolveColumn: %v", err)
	}
	if col != "a.service" {
		t.Fatalf("ambiguous match resolved to %q, want a.service", col)
	}
	counts, err := analyze.TopCounts(tbl, "service", 5)
	if err != nil {
		t.Fatalf("TopCounts: %v", err)
	}
	if len(counts) != 1 || counts[0].Value != "api" {
		t.Fatalf("counts = %v", counts)
	}
}

func TestUnknownBucket(t *testing.T) {
	tbl := analyze.Table{
		Columns: []string{"service"},
		Rows: []map[string]any{
			{"service": "api"},
			{},
			{"service": nil},
			{"service": ""},
		},
	}
	counts, err := analyze.TopCounts(tbl, "service", 5)
	if err != nil {
		t.Fatalf("TopCounts: %v", err)
	}
	if counts[0].Value != analyze.UnknownBucket || counts[0].Count != 3 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestFieldNotFoundListsColumns(t *testing.T) {
	tbl := rowsWith("service", "api")
	_, err := analyze.TopCounts(tbl, "environment", 5)
	var nf *analyze.FieldNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FieldNotFoundError, got %v", err)
	}
	if nf.Field != "environment" || !reflect.DeepEqual(nf.Columns, []string{"service"}) {
		t.Fatalf("error detail = %+v", nf)
	}
}

func TestTopCountsInvalidTopN(t *testing.T) {
	tbl := rowsWith("service", "api")
	for _, n := range []int{0, -3} {
		_, err := analyze.TopCounts(tbl, "service", n)
		var ce analyze.ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("topN=%d: expected ConfigError, got %v", n, err)
		}
	}
}

func TestNumericValuesFormatted(t *testing.T) {
	tbl := rowsWith("priority", 1.0, 1.0, 2.5, true)
	counts, err := analyze.TopCounts(tbl, "priority", 5)
	if err != nil {
		t.Fatalf("TopCounts: %v", err)
	}
	want := []analyze.GroupCount{{Value: "1", Count: 2}, {Value: "2.5", Count: 1}, {Value: "true", Count: 1}}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("counts = %v", counts)
	}
}

func TestCountsCSV(t *testing.T) {
	out := string(analyze.CountsCSV("service", []analyze.GroupCount{
		{Value: "api", Count: 3},
		{Value: "a,b", Count: 1},
	}))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "service,count" || lines[1] != "api,3" || lines[2] != `"a,b",1` {
		t.Fatalf("csv = %q", out)
	}
}

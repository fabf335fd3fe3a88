package server_test

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func TestExportCSV(t *testing.T) {
	te := setup(t)

	tests := []struct {
		path string
		want [][]string
	}{
		{"/charts/aov/export", [][]string{
			{"mes", "valor"},
			{"2024-01", "20"},
			{"2024-02", "40"},
		}},
		{"/charts/category-mix/export?format=csv", [][]string{
			{"category", "total"},
			{"Games", "80"},
			{"Books", "20"},
		}},
		{"/charts/email-engagement/export?data_final=2024-01-31",
			[][]string{
				{"mes", "open_rate", "click_rate"},
				{"2024-01", "20", "12.5"},
			}},
		{"/charts/vendas_por_mes/export?data_inicial=2030-01-01",
			[][]string{{"mes", "total"}}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := te.get(t, tt.path)
			assertStatus(t, w, http.StatusOK)
			if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			got, err := csv.NewReader(w.Body).ReadAll()
			if err != nil {
				t.Fatalf("reading csv: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("csv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExportCSV_Filename(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/charts/repeat-funnel/export")
	assertStatus(t, w, http.StatusOK)
	want := `attachment; filename="repeat-funnel.csv"`
	if got := w.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
}

func TestExportXLSX(t *testing.T) {
	te := setup(t)

	w := te.get(t, "/charts/email-sender-mix/export?format=xlsx")
	assertStatus(t, w, http.StatusOK)
	want := `attachment; filename="email-sender-mix.xlsx"`
	if got := w.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("opening xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	wantRows := [][]string{
		{"sender", "sends", "open_rate"},
		{"Alice", "300", "16.67"},
		{"Bob", "300", "10"},
	}
	if diff := cmp.Diff(wantRows, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	typ, err := f.GetCellType("Sheet1", "B2")
	if err != nil {
		t.Fatalf("GetCellType: %v", err)
	}
	if typ == excelize.CellTypeSharedString ||
		typ == excelize.CellTypeInlineString {
		t.Errorf("sends cell stored as text, want a number")
	}
}

func TestExportRejects(t *testing.T) {
	te := setup(t)
	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/charts/aov/export?format=pdf", http.StatusBadRequest,
			"invalid format: must be csv or xlsx"},
		{"/charts/nope/export", http.StatusNotFound,
			"unknown chart: nope"},
		{"/charts/aov/export?data_inicial=2024-1-1", http.StatusBadRequest,
			"invalid data_inicial: use YYYY-MM-DD"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := te.get(t, tt.path)
			assertStatus(t, w, tt.status)
			assertErrorResponse(t, w, tt.want)
		})
	}
}

package server

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"

	"github.com/wesm/dashai/internal/logging"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportTable is a chart's data flattened to rows of cells in
// column order.
type exportTable struct {
	columns []string
	rows    [][]gjson.Result
}

func tableOf(columns []string, data any) (exportTable, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return exportTable{}, fmt.Errorf("encoding chart data: %w", err)
	}
	t := exportTable{columns: columns}
	gjson.ParseBytes(raw).ForEach(func(_, rec gjson.Result) bool {
		row := make([]gjson.Result, len(columns))
		for i, col := range columns {
			row[i] = rec.Get(col)
		}
		t.rows = append(t.rows, row)
		return true
	})
	return t, nil
}

func (s *Server) handleExportChart(
	w http.ResponseWriter, r *http.Request,
) {
	name := chi.URLParam(r, "chart")
	def, ok := charts[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown chart: "+name)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest,
			"invalid format: must be csv or xlsx")
		return
	}

	data, ok := s.runChart(w, r, name)
	if !ok {
		return
	}
	table, err := tableOf(def.columns, data)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("chart", name).Msg("export failed")
		writeError(w, http.StatusInternalServerError,
			"internal server error")
		return
	}

	switch format {
	case "csv":
		writeCSV(w, r, name, table)
	case "xlsx":
		writeXLSX(w, r, name, table)
	}
}

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(
		"Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, filename),
	)
}

func writeCSV(
	w http.ResponseWriter, r *http.Request,
	name string, t exportTable,
) {
	attachment(w, "text/csv; charset=utf-8", name+".csv")
	cw := csv.NewWriter(w)
	_ = cw.Write(t.columns)
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, cell := range row {
			record[i] = cell.String()
		}
		_ = cw.Write(record)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).
			Str("chart", name).Msg("writing csv export")
	}
}

func writeXLSX(
	w http.ResponseWriter, r *http.Request,
	name string, t exportTable,
) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	fail := func(err error) {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("chart", name).Msg("building xlsx export")
		writeError(w, http.StatusInternalServerError,
			"internal server error")
	}

	header := make([]any, len(t.columns))
	for i, c := range t.columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		fail(err)
		return
	}
	for i, row := range t.rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			// Value keeps numbers numeric.
			cells[j] = cell.Value()
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			fail(err)
			return
		}
		if err := f.SetSheetRow(sheet, addr, &cells); err != nil {
			fail(err)
			return
		}
	}

	attachment(w, xlsxContentType, name+".xlsx")
	if err := f.Write(w); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).
			Str("chart", name).Msg("writing xlsx export")
	}
}

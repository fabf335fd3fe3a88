package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/dashai/internal/db"
	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/metrics"
)

// chartDef binds an endpoint name to its getter. Exactly one of
// orders and campaigns is set. columns is the record's JSON field
// order, used by exports.
type chartDef struct {
	columns   []string
	orders    func(*db.DB, context.Context, db.OrderFilter) (any, error)
	campaigns func(*db.DB, context.Context, db.CampaignFilter) (any, error)
}

func orderChart[T any](
	get func(*db.DB, context.Context, db.OrderFilter) ([]T, error),
	columns ...string,
) chartDef {
	return chartDef{
		columns: columns,
		orders: func(
			d *db.DB, ctx context.Context, f db.OrderFilter,
		) (any, error) {
			rows, err := get(d, ctx, f)
			return rows, err
		},
	}
}

func campaignChart[T any](
	get func(*db.DB, context.Context, db.CampaignFilter) ([]T, error),
	columns ...string,
) chartDef {
	return chartDef{
		columns: columns,
		campaigns: func(
			d *db.DB, ctx context.Context, f db.CampaignFilter,
		) (any, error) {
			rows, err := get(d, ctx, f)
			return rows, err
		},
	}
}

var charts = map[string]chartDef{
	"aov": orderChart((*db.DB).GetAverageOrderValue,
		"mes", "valor"),
	"category-mix": orderChart((*db.DB).GetCategoryMix,
		"category", "total"),
	"repeat-funnel": orderChart((*db.DB).GetRepeatFunnel,
		"step", "customers"),
	"vendas_por_mes": orderChart((*db.DB).GetMonthlySales,
		"mes", "total"),
	"email-volume": campaignChart((*db.DB).GetEmailVolume,
		"mes", "sends"),
	"email-engagement": campaignChart((*db.DB).GetEmailEngagement,
		"mes", "open_rate", "click_rate"),
	"email-sender-mix": campaignChart((*db.DB).GetSenderMix,
		"sender", "sends", "open_rate"),
	"email-unsub-rate": campaignChart((*db.DB).GetUnsubscribeRate,
		"mes", "unsub_rate"),
}

// isValidDate checks that s is a well-formed YYYY-MM-DD string.
func isValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// parseDateRange reads data_inicial and data_final. Both are
// optional.
func parseDateRange(
	w http.ResponseWriter, r *http.Request,
) (from, to string, ok bool) {
	q := r.URL.Query()
	from = strings.TrimSpace(q.Get("data_inicial"))
	to = strings.TrimSpace(q.Get("data_final"))
	if from != "" && !isValidDate(from) {
		writeError(w, http.StatusBadRequest,
			"invalid data_inicial: use YYYY-MM-DD")
		return "", "", false
	}
	if to != "" && !isValidDate(to) {
		writeError(w, http.StatusBadRequest,
			"invalid data_final: use YYYY-MM-DD")
		return "", "", false
	}
	if from != "" && to != "" && from > to {
		writeError(w, http.StatusBadRequest,
			"data_inicial must not be after data_final")
		return "", "", false
	}
	return from, to, true
}

// parseOrderFilter extracts the commerce chart filters. The
// dashboard sends the category as categoria.
func parseOrderFilter(
	w http.ResponseWriter, r *http.Request,
) (db.OrderFilter, bool) {
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return db.OrderFilter{}, false
	}
	q := r.URL.Query()

	var productID *int64
	if s := strings.TrimSpace(q.Get("product_id")); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest,
				"product_id must be an integer")
			return db.OrderFilter{}, false
		}
		productID = &v
	}

	category := strings.TrimSpace(q.Get("category"))
	if category == "" {
		category = strings.TrimSpace(q.Get("categoria"))
	}

	return db.OrderFilter{
		From:      from,
		To:        to,
		ProductID: productID,
		Category:  category,
	}, true
}

func parseCampaignFilter(
	w http.ResponseWriter, r *http.Request,
) (db.CampaignFilter, bool) {
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return db.CampaignFilter{}, false
	}
	return db.CampaignFilter{
		From:   from,
		To:     to,
		Sender: strings.TrimSpace(r.URL.Query().Get("sender")),
	}, true
}

// runChart parses the filters for chart name and runs its query.
// On false the response has been written (or the request is gone).
func (s *Server) runChart(
	w http.ResponseWriter, r *http.Request, name string,
) (any, bool) {
	def, ok := charts[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown chart: "+name)
		return nil, false
	}

	var (
		data     any
		err      error
		filter   any
		filtered bool
		start    time.Time
	)
	if def.campaigns != nil {
		f, ok := parseCampaignFilter(w, r)
		if !ok {
			return nil, false
		}
		filter, filtered, start = f, f.HasFilters(), time.Now()
		data, err = def.campaigns(s.db, r.Context(), f)
	} else {
		f, ok := parseOrderFilter(w, r)
		if !ok {
			return nil, false
		}
		filter, filtered, start = f, f.HasFilters(), time.Now()
		data, err = def.orders(s.db, r.Context(), f)
	}
	metrics.RecordChartQuery(name, time.Since(start), err)

	if err != nil {
		if handleContextError(w, err) {
			return nil, false
		}
		logging.Ctx(r.Context()).Error().Err(err).
			Str("chart", name).
			Bool("filtered", filtered).
			Interface("filter", filter).
			Msg("chart query failed")
		writeError(w, http.StatusInternalServerError,
			"internal server error")
		return nil, false
	}
	return data, true
}

func (s *Server) handleChart(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.runChart(w, r, name)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	}
}

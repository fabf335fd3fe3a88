package db

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// Funnel step labels, in display order.
const (
	FunnelStep1 = "1+ orders"
	FunnelStep2 = "2+ orders"
	FunnelStep3 = "3+ orders"
)

// senderMixLimit caps the sender mix chart.
const senderMixLimit = 10

var hundred = decimal.NewFromInt(100)

// MonthlyValue is one point of the average order value chart.
type MonthlyValue struct {
	Month string  `json:"mes"`
	Value float64 `json:"valor"`
}

// CategoryTotal is one slice of the category mix chart.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// FunnelStep is one bar of the repeat purchase funnel.
type FunnelStep struct {
	Step      string `json:"step"`
	Customers int64  `json:"customers"`
}

// MonthlyTotal is one point of the monthly sales chart.
type MonthlyTotal struct {
	Month string  `json:"mes"`
	Total float64 `json:"total"`
}

// MonthlySends is one point of the email volume chart.
type MonthlySends struct {
	Month string `json:"mes"`
	Sends int64  `json:"sends"`
}

// MonthlyEngagement holds open and click rates in percent.
type MonthlyEngagement struct {
	Month     string  `json:"mes"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
}

// SenderShare is one row of the sender mix chart.
type SenderShare struct {
	Sender   string  `json:"sender"`
	Sends    int64   `json:"sends"`
	OpenRate float64 `json:"open_rate"`
}

// MonthlyUnsubscribe holds the unsubscribe rate in percent.
type MonthlyUnsubscribe struct {
	Month     string  `json:"mes"`
	UnsubRate float64 `json:"unsub_rate"`
}

// Order charts filter on these columns. Joined charts alias orders
// as o.
const (
	orderDateCol  = "order_date"
	orderIDCol    = "order_id"
	joinedDateCol = "o.order_date"
	joinedIDCol   = "o.order_id"
)

var (
	aovChart = aggregate{
		name: "aov",
		from: "orders",
		cols: []string{
			monthOf(orderDateCol) + " AS mes",
			"COALESCE(AVG(grand_total), 0) AS valor",
		},
		groupBy: "mes",
		orderBy: "mes",
	}

	categoryMixChart = aggregate{
		name: "category-mix",
		from: "orders o" +
			" JOIN order_items oi ON o.order_id = oi.order_id" +
			" JOIN products p ON oi.product_id = p.product_id",
		cols: []string{
			"p.category AS category",
			"COALESCE(SUM(oi.qty * oi.unit_price), 0) AS total",
		},
		groupBy: "p.category",
		orderBy: "total DESC, category",
	}

	repeatFunnelChart = aggregate{
		name:    "repeat-funnel",
		from:    "orders",
		cols:    []string{"contact_id", "COUNT(*) AS cnt"},
		groupBy: "contact_id",
		wrap: "COALESCE(SUM(CASE WHEN cnt >= 1 THEN 1 ELSE 0 END), 0), " +
			"COALESCE(SUM(CASE WHEN cnt >= 2 THEN 1 ELSE 0 END), 0), " +
			"COALESCE(SUM(CASE WHEN cnt >= 3 THEN 1 ELSE 0 END), 0)",
	}

	monthlySalesChart = aggregate{
		name: "vendas_por_mes",
		from: "orders",
		cols: []string{
			monthOf(orderDateCol) + " AS mes",
			"COALESCE(SUM(grand_total), 0) AS total",
		},
		groupBy: "mes",
		orderBy: "mes",
	}

	emailVolumeChart = aggregate{
		name: "email-volume",
		from: "campaigns",
		cols: []string{
			monthOf(campaignISODate) + " AS mes",
			"CAST(COALESCE(SUM(email_sends), 0) AS INTEGER) AS sends",
		},
		groupBy: "mes",
		orderBy: "mes",
	}

	emailEngagementChart = aggregate{
		name: "email-engagement",
		from: "campaigns",
		cols: []string{
			monthOf(campaignISODate) + " AS mes",
			"SUM(email_unique_opens) * 1.0 / NULLIF(SUM(email_sends), 0) AS open_rate",
			"SUM(email_unique_clicks) * 1.0 / NULLIF(SUM(email_unique_opens), 0) AS click_rate",
		},
		groupBy: "mes",
		orderBy: "mes",
	}

	senderMixChart = aggregate{
		name: "email-sender-mix",
		from: "campaigns",
		cols: []string{
			"email_sender_name AS sender",
			"CAST(COALESCE(SUM(email_sends), 0) AS INTEGER) AS sends",
			"SUM(email_unique_opens) * 1.0 / NULLIF(SUM(email_sends), 0) AS open_rate",
		},
		groupBy: "email_sender_name",
		orderBy: "sends DESC, sender",
		limit:   senderMixLimit,
	}

	unsubRateChart = aggregate{
		name: "email-unsub-rate",
		from: "campaigns",
		cols: []string{
			monthOf(campaignISODate) + " AS mes",
			"SUM(email_unique_unsubscribes) * 1.0 / NULLIF(SUM(email_sends), 0) AS unsub_rate",
		},
		groupBy: "mes",
		orderBy: "mes",
	}
)

// percent converts a ratio to a percentage rounded half away from
// zero and clamped to [0, 100]. NULL ratios (zero denominators)
// become 0.
func percent(r sql.NullFloat64, places int32) float64 {
	if !r.Valid {
		return 0
	}
	v := decimal.NewFromFloat(r.Float64).Mul(hundred).Round(places)
	if v.IsNegative() {
		return 0
	}
	if v.GreaterThan(hundred) {
		return 100
	}
	return v.InexactFloat64()
}

// money rounds a currency amount to cents.
func money(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// GetAverageOrderValue returns the mean order total per month.
func (db *DB) GetAverageOrderValue(
	ctx context.Context, f OrderFilter,
) ([]MonthlyValue, error) {
	pred, args := f.buildWhere(orderDateCol, orderIDCol)
	out := []MonthlyValue{}
	err := db.runAggregate(ctx, aovChart, pred, args,
		func(rows *sql.Rows) error {
			var mes sql.NullString
			var v float64
			if err := rows.Scan(&mes, &v); err != nil {
				return err
			}
			// Rows whose date does not parse have no month.
			if !mes.Valid {
				return nil
			}
			out = append(out, MonthlyValue{
				Month: mes.String, Value: money(v),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCategoryMix returns line-item revenue per product category,
// largest first.
func (db *DB) GetCategoryMix(
	ctx context.Context, f OrderFilter,
) ([]CategoryTotal, error) {
	pred, args := f.buildWhere(joinedDateCol, joinedIDCol)
	out := []CategoryTotal{}
	err := db.runAggregate(ctx, categoryMixChart, pred, args,
		func(rows *sql.Rows) error {
			var cat sql.NullString
			var total float64
			if err := rows.Scan(&cat, &total); err != nil {
				return err
			}
			out = append(out, CategoryTotal{
				Category: cat.String, Total: money(total),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRepeatFunnel counts customers with at least one, two, and
// three matching orders. It always returns three steps.
func (db *DB) GetRepeatFunnel(
	ctx context.Context, f OrderFilter,
) ([]FunnelStep, error) {
	pred, args := f.buildWhere(orderDateCol, orderIDCol)
	var p1, p2, p3 int64
	err := db.runAggregate(ctx, repeatFunnelChart, pred, args,
		func(rows *sql.Rows) error {
			return rows.Scan(&p1, &p2, &p3)
		})
	if err != nil {
		return nil, err
	}
	return []FunnelStep{
		{Step: FunnelStep1, Customers: p1},
		{Step: FunnelStep2, Customers: p2},
		{Step: FunnelStep3, Customers: p3},
	}, nil
}

// GetMonthlySales returns summed order totals per month.
func (db *DB) GetMonthlySales(
	ctx context.Context, f OrderFilter,
) ([]MonthlyTotal, error) {
	pred, args := f.buildWhere(orderDateCol, orderIDCol)
	out := []MonthlyTotal{}
	err := db.runAggregate(ctx, monthlySalesChart, pred, args,
		func(rows *sql.Rows) error {
			var mes sql.NullString
			var total float64
			if err := rows.Scan(&mes, &total); err != nil {
				return err
			}
			if !mes.Valid {
				return nil
			}
			out = append(out, MonthlyTotal{
				Month: mes.String, Total: money(total),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEmailVolume returns total sends per month.
func (db *DB) GetEmailVolume(
	ctx context.Context, f CampaignFilter,
) ([]MonthlySends, error) {
	pred, args := f.buildWhere(campaignISODate)
	out := []MonthlySends{}
	err := db.runAggregate(ctx, emailVolumeChart, pred, args,
		func(rows *sql.Rows) error {
			var mes sql.NullString
			var sends int64
			if err := rows.Scan(&mes, &sends); err != nil {
				return err
			}
			if !mes.Valid {
				return nil
			}
			out = append(out, MonthlySends{
				Month: mes.String, Sends: sends,
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEmailEngagement returns open rate (opens/sends) and click
// rate (clicks/opens) per month, in percent with two decimals.
func (db *DB) GetEmailEngagement(
	ctx context.Context, f CampaignFilter,
) ([]MonthlyEngagement, error) {
	pred, args := f.buildWhere(campaignISODate)
	out := []MonthlyEngagement{}
	err := db.runAggregate(ctx, emailEngagementChart, pred, args,
		func(rows *sql.Rows) error {
			var mes sql.NullString
			var open, click sql.NullFloat64
			if err := rows.Scan(&mes, &open, &click); err != nil {
				return err
			}
			if !mes.Valid {
				return nil
			}
			out = append(out, MonthlyEngagement{
				Month:     mes.String,
				OpenRate:  percent(open, 2),
				ClickRate: percent(click, 2),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSenderMix returns the top senders by volume with their open
// rate in percent.
func (db *DB) GetSenderMix(
	ctx context.Context, f CampaignFilter,
) ([]SenderShare, error) {
	pred, args := f.buildWhere(campaignISODate)
	out := []SenderShare{}
	err := db.runAggregate(ctx, senderMixChart, pred, args,
		func(rows *sql.Rows) error {
			var sender sql.NullString
			var sends int64
			var open sql.NullFloat64
			if err := rows.Scan(&sender, &sends, &open); err != nil {
				return err
			}
			out = append(out, SenderShare{
				Sender:   sender.String,
				Sends:    sends,
				OpenRate: percent(open, 2),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUnsubscribeRate returns unsubscribes/sends per month, in
// percent with three decimals.
func (db *DB) GetUnsubscribeRate(
	ctx context.Context, f CampaignFilter,
) ([]MonthlyUnsubscribe, error) {
	pred, args := f.buildWhere(campaignISODate)
	out := []MonthlyUnsubscribe{}
	err := db.runAggregate(ctx, unsubRateChart, pred, args,
		func(rows *sql.Rows) error {
			var mes sql.NullString
			var rate sql.NullFloat64
			if err := rows.Scan(&mes, &rate); err != nil {
				return err
			}
			if !mes.Valid {
				return nil
			}
			out = append(out, MonthlyUnsubscribe{
				Month: mes.String, UnsubRate: percent(rate, 3),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package db

import "strings"

// campaignISODate rewrites the campaigns.send_date column from
// DD/MM/YYYY to YYYY-MM-DD so SQLite date functions accept it.
const campaignISODate = "substr(send_date, 7, 4) || '-' || " +
	"substr(send_date, 4, 2) || '-' || " +
	"substr(send_date, 1, 2)"

// OrderFilter is the shared filter for commerce charts. Zero
// values mean "no restriction".
type OrderFilter struct {
	From      string // ISO date YYYY-MM-DD, inclusive
	To        string // ISO date YYYY-MM-DD, inclusive
	ProductID *int64 // orders containing this product
	Category  string // orders containing a product of this category
}

// HasFilters reports whether any restriction is set.
func (f OrderFilter) HasFilters() bool {
	return f.From != "" || f.To != "" ||
		f.ProductID != nil || f.Category != ""
}

// buildWhere returns a predicate and args for the filter. dateCol
// is the order date column and orderCol the order id column as
// visible in the caller's FROM clause.
func (f OrderFilter) buildWhere(
	dateCol, orderCol string,
) (string, []any) {
	var preds []string
	var args []any

	if f.ProductID != nil {
		preds = append(preds, orderCol+
			" IN (SELECT order_id FROM order_items WHERE product_id = ?)")
		args = append(args, *f.ProductID)
	}

	if f.Category != "" {
		preds = append(preds, orderCol+
			" IN (SELECT oi.order_id FROM order_items oi"+
			" JOIN products p ON oi.product_id = p.product_id"+
			" WHERE p.category = ?)")
		args = append(args, f.Category)
	}

	if f.From != "" {
		preds = append(preds, "date("+dateCol+") >= date(?)")
		args = append(args, f.From)
	}

	if f.To != "" {
		preds = append(preds, "date("+dateCol+") <= date(?)")
		args = append(args, f.To)
	}

	return strings.Join(preds, " AND "), args
}

// CampaignFilter is the shared filter for email campaign charts.
type CampaignFilter struct {
	From   string // ISO date YYYY-MM-DD, inclusive
	To     string // ISO date YYYY-MM-DD, inclusive
	Sender string // exact sender name
}

// HasFilters reports whether any restriction is set.
func (f CampaignFilter) HasFilters() bool {
	return f.From != "" || f.To != "" || f.Sender != ""
}

// buildWhere returns a predicate and args for the filter.
// dateExpr must evaluate to an ISO date.
func (f CampaignFilter) buildWhere(dateExpr string) (string, []any) {
	var preds []string
	var args []any

	if f.Sender != "" {
		preds = append(preds, "email_sender_name = ?")
		args = append(args, f.Sender)
	}

	if f.From != "" {
		preds = append(preds, "date("+dateExpr+") >= date(?)")
		args = append(args, f.From)
	}

	if f.To != "" {
		preds = append(preds, "date("+dateExpr+") <= date(?)")
		args = append(args, f.To)
	}

	return strings.Join(preds, " AND "), args
}

// whereClause prefixes a non-empty predicate with WHERE.
func whereClause(pred string) string {
	if pred == "" {
		return ""
	}
	return " WHERE " + pred
}

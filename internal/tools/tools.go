// Package tools implements the tool belt the chat agent may call.
// Each tool takes a JSON object of arguments and returns a string
// that is handed back to the agent verbatim.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/wesm/dashai/internal/db"
)

// ErrUnknownTool is returned by Call for names not in the registry.
var ErrUnknownTool = errors.New("unknown tool")

// Store is the slice of the dataset the tools read.
type Store interface {
	QueryReadOnly(ctx context.Context, query string) ([]map[string]any, error)
	SalesByCategory(ctx context.Context, category string) (float64, error)
	GetMonthlySales(ctx context.Context, f db.OrderFilter) ([]db.MonthlyTotal, error)
}

// Func runs a tool against parsed arguments.
type Func func(ctx context.Context, args gjson.Result) (string, error)

// Tool is a named, described tool.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Fn          Func   `json:"-"`
}

// Registry maps tool names to tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns the standard tool belt over store.
func NewRegistry(store Store) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range []Tool{
		{
			Name: "set_filters",
			Description: "Set dashboard filters. Args: data_inicial, " +
				"data_final (YYYY-MM-DD), produto_id (int), categoria.",
			Fn: setFilters,
		},
		{
			Name:        "toggle_theme",
			Description: "Switch the UI theme. Args: tema (light|dark).",
			Fn:          toggleTheme,
		},
		{
			Name: "query_sql",
			Description: "Run a read-only SELECT against the dataset. " +
				"Args: query.",
			Fn: querySQL(store),
		},
		{
			Name: "sales_by_category",
			Description: "Total line-item sales for a product " +
				"category. Args: categoria.",
			Fn: salesByCategory(store),
		},
		{
			Name: "vendas_por_mes",
			Description: "Monthly sales totals. Args: data_inicial, " +
				"data_final (YYYY-MM-DD).",
			Fn: monthlySales(store),
		},
		{
			Name: "generate_chart",
			Description: "Describe a chart for the client to draw. " +
				"Args: titulo, x (labels), y (numbers), tipo (bar|line).",
			Fn: generateChart,
		},
	} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name] = t
}

// List returns the tools sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Call runs the named tool. input is a JSON object; an empty input
// is treated as {}.
func (r *Registry) Call(
	ctx context.Context, name, input string,
) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	if !gjson.Valid(input) {
		return "", fmt.Errorf("%s: arguments are not valid JSON", name)
	}
	return t.Fn(ctx, gjson.Parse(input))
}

// arg returns the first present argument among names.
func arg(args gjson.Result, names ...string) gjson.Result {
	for _, n := range names {
		if v := args.Get(n); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func setFilters(_ context.Context, args gjson.Result) (string, error) {
	filters := map[string]any{}
	if v := arg(args, "data_inicial", "start_date"); v.Exists() {
		filters["start_date"] = v.String()
	}
	if v := arg(args, "data_final", "end_date"); v.Exists() {
		filters["end_date"] = v.String()
	}
	if v := arg(args, "produto_id", "product_id"); v.Exists() {
		filters["product_id"] = v.Int()
	}
	if v := arg(args, "categoria", "category"); v.Exists() {
		filters["category"] = v.String()
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toggleTheme(_ context.Context, args gjson.Result) (string, error) {
	switch t := strings.ToLower(arg(args, "tema", "theme").String()); t {
	case "light", "dark":
		return t, nil
	default:
		return "toggle", nil
	}
}

func querySQL(store Store) Func {
	return func(ctx context.Context, args gjson.Result) (string, error) {
		rows, err := store.QueryReadOnly(ctx, arg(args, "query").String())
		if errors.Is(err, db.ErrNotSelect) {
			return "error: only SELECT statements are allowed", nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "error: " + err.Error(), nil
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func salesByCategory(store Store) Func {
	return func(ctx context.Context, args gjson.Result) (string, error) {
		total, err := store.SalesByCategory(
			ctx, arg(args, "categoria", "category").String(),
		)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.2f", total), nil
	}
}

func monthlySales(store Store) Func {
	return func(ctx context.Context, args gjson.Result) (string, error) {
		f := db.OrderFilter{
			From: arg(args, "data_inicial", "start_date").String(),
			To:   arg(args, "data_final", "end_date").String(),
		}
		rows, err := store.GetMonthlySales(ctx, f)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// ChartSpec is what generate_chart returns; the client renders it.
type ChartSpec struct {
	Title  string    `json:"title"`
	Type   string    `json:"type"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

func generateChart(_ context.Context, args gjson.Result) (string, error) {
	spec := ChartSpec{
		Title:  arg(args, "titulo", "title").String(),
		Type:   "bar",
		Labels: []string{},
		Values: []float64{},
	}
	if arg(args, "tipo", "type").String() == "line" {
		spec.Type = "line"
	}
	for _, v := range arg(args, "x", "labels").Array() {
		spec.Labels = append(spec.Labels, v.String())
	}
	for _, v := range arg(args, "y", "values").Array() {
		spec.Values = append(spec.Values, v.Float())
	}
	if len(spec.Labels) != len(spec.Values) {
		return "", fmt.Errorf(
			"generate_chart: %d labels but %d values",
			len(spec.Labels), len(spec.Values))
	}
	b, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package dbtest builds throwaway dashboard databases for tests in
// other packages.
package dbtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wesm/dashai/internal/db"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Create makes a writable database in a temp dir, loads ds into it
// and closes it when the test ends.
func Create(t *testing.T, ds db.Dataset) *db.DB {
	t.Helper()
	d, err := db.Create(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Insert(ds); err != nil {
		t.Fatalf("seeding test db: %v", err)
	}
	return d
}

// WriteTestFile writes content to path, creating parent dirs.
func WriteTestFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// Sample is a small shop with two months of orders and campaigns.
//
//	order 1  contact 1  2024-01-05  10.00  Books x1
//	order 2  contact 1  2024-01-15  20.00  Games x1
//	order 3  contact 2  2024-01-20  30.00  Books x1, Games x1
//	order 4  contact 1  2024-02-03  40.00  Games x2
//
//	05/01/2024  Alice  100 sends  50 opens  10 clicks  1 unsub
//	20/01/2024  Bob    300 sends  30 opens   0 clicks  3 unsub
//	03/02/2024  Alice  200 sends   0 opens   0 clicks  0 unsub
func Sample() db.Dataset {
	return db.Dataset{
		Contacts: []db.Contact{
			{ID: 1, FullName: "Ana", Email: "ana@example.com"},
			{ID: 2, FullName: "Bruno", Email: "bruno@example.com"},
		},
		Products: []db.Product{
			{ID: 1, Name: "Novel", Category: "Books", UnitPrice: 10},
			{ID: 2, Name: "Puzzle", Category: "Games", UnitPrice: 20},
		},
		Orders: []db.Order{
			{ID: 1, ContactID: 1, Date: "2024-01-05", GrandTotal: 10},
			{ID: 2, ContactID: 1, Date: "2024-01-15", GrandTotal: 20},
			{ID: 3, ContactID: 2, Date: "2024-01-20", GrandTotal: 30},
			{ID: 4, ContactID: 1, Date: "2024-02-03", GrandTotal: 40},
		},
		OrderItems: []db.OrderItem{
			{ID: 1, OrderID: 1, ProductID: 1, Qty: 1, UnitPrice: 10},
			{ID: 2, OrderID: 2, ProductID: 2, Qty: 1, UnitPrice: 20},
			{ID: 3, OrderID: 3, ProductID: 1, Qty: 1, UnitPrice: 10},
			{ID: 4, OrderID: 3, ProductID: 2, Qty: 1, UnitPrice: 20},
			{ID: 5, OrderID: 4, ProductID: 2, Qty: 2, UnitPrice: 20},
		},
		Campaigns: []db.CampaignSend{
			{
				SendDate: "05/01/2024", Sender: "Alice",
				Sends: 100, UniqueOpens: 50,
				UniqueClicks: 10, Unsubscribes: 1,
			},
			{
				SendDate: "20/01/2024", Sender: "Bob",
				Sends: 300, UniqueOpens: 30, Unsubscribes: 3,
			},
			{SendDate: "03/02/2024", Sender: "Alice", Sends: 200},
		},
	}
}

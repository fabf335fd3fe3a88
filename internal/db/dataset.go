package db

import (
	"database/sql"
	"fmt"
)

// Contact is a customer row.
type Contact struct {
	ID        int64
	FullName  string
	Email     string
	Phone     string
	CreatedAt string
}

// Product is a catalog row.
type Product struct {
	ID        int64
	Name      string
	Category  string
	UnitPrice float64
}

// Order is an order header. Date is ISO (YYYY-MM-DD or a full
// timestamp SQLite's date() understands).
type Order struct {
	ID         int64
	ContactID  int64
	Date       string
	GrandTotal float64
}

// OrderItem is one order line.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Qty       int64
	UnitPrice float64
}

// CampaignSend is one campaign row. SendDate is DD/MM/YYYY, the
// format the loader writes.
type CampaignSend struct {
	SendDate     string
	Sender       string
	ContentID    string
	Subject      string
	Sends        int64
	UniqueOpens  int64
	UniqueClicks int64
	Unsubscribes int64
}

// Dataset is a batch of rows to insert in one transaction.
type Dataset struct {
	Contacts   []Contact
	Products   []Product
	Orders     []Order
	OrderItems []OrderItem
	Campaigns  []CampaignSend
}

// Insert writes every row of ds in a single transaction. It stands
// in for the external loader in fixtures and tests.
func (db *DB) Insert(ds Dataset) error {
	return db.Update(func(tx *sql.Tx) error {
		for _, c := range ds.Contacts {
			if _, err := tx.Exec(
				`INSERT INTO contacts
				 (contact_id, full_name, email, phone, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				c.ID, c.FullName, nullStr(c.Email),
				c.Phone, c.CreatedAt,
			); err != nil {
				return fmt.Errorf("inserting contact %d: %w", c.ID, err)
			}
		}
		for _, p := range ds.Products {
			if _, err := tx.Exec(
				`INSERT INTO products
				 (product_id, name, category, unit_price)
				 VALUES (?, ?, ?, ?)`,
				p.ID, p.Name, p.Category, p.UnitPrice,
			); err != nil {
				return fmt.Errorf("inserting product %d: %w", p.ID, err)
			}
		}
		for _, o := range ds.Orders {
			if _, err := tx.Exec(
				`INSERT INTO orders
				 (order_id, contact_id, order_date, grand_total)
				 VALUES (?, ?, ?, ?)`,
				o.ID, o.ContactID, o.Date, o.GrandTotal,
			); err != nil {
				return fmt.Errorf("inserting order %d: %w", o.ID, err)
			}
		}
		for _, it := range ds.OrderItems {
			if _, err := tx.Exec(
				`INSERT INTO order_items
				 (order_item_id, order_id, product_id, qty, unit_price)
				 VALUES (?, ?, ?, ?, ?)`,
				it.ID, it.OrderID, it.ProductID, it.Qty, it.UnitPrice,
			); err != nil {
				return fmt.Errorf("inserting order item %d: %w",
					it.ID, err)
			}
		}
		for _, c := range ds.Campaigns {
			if _, err := tx.Exec(
				`INSERT INTO campaigns
				 (send_date, email_sender_name, content_id, subject,
				  email_sends, email_unique_opens,
				  email_unique_clicks, email_unique_unsubscribes)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.SendDate, c.Sender, c.ContentID, c.Subject,
				c.Sends, c.UniqueOpens, c.UniqueClicks, c.Unsubscribes,
			); err != nil {
				return fmt.Errorf("inserting campaign %s/%s: %w",
					c.SendDate, c.Sender, err)
			}
		}
		return nil
	})
}

// nullStr maps "" to NULL so UNIQUE columns accept several blanks.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

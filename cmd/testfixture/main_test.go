package main

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/dashai/internal/db"
)

func fixture(seed uint64) db.Dataset {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return generate(rand.New(rand.NewPCG(seed, 0)), start, 20, 3)
}

func TestGenerateIsDeterministic(t *testing.T) {
	if diff := cmp.Diff(fixture(7), fixture(7)); diff != "" {
		t.Errorf("same seed differs (-first +second):\n%s", diff)
	}
}

func TestGenerateConsistency(t *testing.T) {
	ds := fixture(1)

	if len(ds.Contacts) != 20 {
		t.Errorf("contacts = %d, want 20", len(ds.Contacts))
	}
	if want := 3 * len(senders) * 4; len(ds.Campaigns) != want {
		t.Errorf("campaigns = %d, want %d", len(ds.Campaigns), want)
	}

	itemTotals := map[int64]float64{}
	for _, it := range ds.OrderItems {
		if it.ProductID < 1 || int(it.ProductID) > len(catalog) {
			t.Fatalf("item %d has product %d", it.ID, it.ProductID)
		}
		itemTotals[it.OrderID] += float64(it.Qty) * it.UnitPrice
	}
	for _, o := range ds.Orders {
		if o.ContactID < 1 || o.ContactID > 20 {
			t.Errorf("order %d has contact %d", o.ID, o.ContactID)
		}
		if o.Date < "2024-01-01" || o.Date > "2024-03-31" {
			t.Errorf("order %d dated %s", o.ID, o.Date)
		}
		if diff := o.GrandTotal - itemTotals[o.ID]; diff > 0.005 || diff < -0.005 {
			t.Errorf("order %d total %.2f, items sum %.2f",
				o.ID, o.GrandTotal, itemTotals[o.ID])
		}
	}
	for _, c := range ds.Campaigns {
		if c.UniqueOpens > c.Sends || c.UniqueClicks > c.UniqueOpens {
			t.Errorf("campaign %s: opens/clicks exceed sends", c.ContentID)
		}
	}
}

func TestGenerateLoadsAndCharts(t *testing.T) {
	d, err := db.Create(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Insert(fixture(3)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	sales, err := d.GetMonthlySales(context.Background(), db.OrderFilter{})
	if err != nil {
		t.Fatal(err)
	}
	var months []string
	for _, s := range sales {
		months = append(months, s.Month)
	}
	want := []string{"2024-01", "2024-02", "2024-03"}
	if diff := cmp.Diff(want, months); diff != "" {
		t.Errorf("months (-want +got):\n%s", diff)
	}

	volume, err := d.GetEmailVolume(context.Background(), db.CampaignFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(volume) != 3 {
		t.Errorf("email volume months = %d, want 3", len(volume))
	}
}

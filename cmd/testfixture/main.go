package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/wesm/dashai/internal/db"
)

type productSpec struct {
	name     string
	category string
	price    float64
}

var catalog = []productSpec{
	{"Field Notes", "Books", 12.90},
	{"Go in Practice", "Books", 49.00},
	{"Cookbook", "Books", 35.50},
	{"Chess Set", "Games", 89.90},
	{"Card Deck", "Games", 9.90},
	{"1000pc Puzzle", "Games", 29.00},
	{"Headphones", "Electronics", 199.00},
	{"USB Cable", "Electronics", 14.90},
	{"Desk Lamp", "Home", 59.90},
	{"Mug", "Home", 19.90},
}

var senders = []string{"Newsletter", "Promotions", "Loyalty Club"}

func main() {
	out := flag.String("out", "", "output database path")
	contacts := flag.Int("contacts", 40, "number of contacts")
	months := flag.Int("months", 12, "months of orders and campaigns")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()
	if *out == "" || *contacts < 2 || *months < 1 {
		fmt.Fprintln(os.Stderr,
			"usage: testfixture -out <path> [-contacts N>=2] [-months N>=1]")
		os.Exit(1)
	}

	if err := os.Remove(*out); err != nil &&
		!errors.Is(err, os.ErrNotExist) {
		log.Fatalf("removing existing db: %v", err)
	}

	database, err := db.Create(*out)
	if err != nil {
		log.Fatalf("creating db: %v", err)
	}
	defer database.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := generate(rand.New(rand.NewPCG(*seed, 0)), start,
		*contacts, *months)
	if err := database.Insert(ds); err != nil {
		log.Fatalf("inserting fixture rows: %v", err)
	}

	fmt.Printf("  contacts:    %d\n", len(ds.Contacts))
	fmt.Printf("  products:    %d\n", len(ds.Products))
	fmt.Printf("  orders:      %d (%d items)\n",
		len(ds.Orders), len(ds.OrderItems))
	fmt.Printf("  campaigns:   %d\n", len(ds.Campaigns))
	fmt.Printf("Fixture DB written to %s\n", *out)
}

// generate builds a dataset covering months months from start. The
// same rng state always yields the same rows.
func generate(
	rng *rand.Rand, start time.Time, contacts, months int,
) db.Dataset {
	var ds db.Dataset

	for i := range contacts {
		id := int64(i + 1)
		ds.Contacts = append(ds.Contacts, db.Contact{
			ID:        id,
			FullName:  fmt.Sprintf("Customer %03d", id),
			Email:     fmt.Sprintf("customer%03d@example.com", id),
			CreatedAt: start.AddDate(0, 0, -rng.IntN(365)).Format(time.DateOnly),
		})
	}
	for i, p := range catalog {
		ds.Products = append(ds.Products, db.Product{
			ID: int64(i + 1), Name: p.name,
			Category: p.category, UnitPrice: p.price,
		})
	}

	var orderID, itemID int64
	for m := range months {
		month := start.AddDate(0, m, 0)
		days := month.AddDate(0, 1, -1).Day()

		for range contacts/2 + rng.IntN(contacts/2+1) {
			orderID++
			order := db.Order{
				ID: orderID,
				// Skewed so some customers come back often.
				ContactID: int64(1 + rng.IntN(1+rng.IntN(contacts))),
				Date:      month.AddDate(0, 0, rng.IntN(days)).Format(time.DateOnly),
			}
			for range 1 + rng.IntN(3) {
				itemID++
				pi := rng.IntN(len(catalog))
				qty := int64(1 + rng.IntN(3))
				ds.OrderItems = append(ds.OrderItems, db.OrderItem{
					ID: itemID, OrderID: orderID,
					ProductID: int64(pi + 1),
					Qty:       qty, UnitPrice: catalog[pi].price,
				})
				order.GrandTotal += float64(qty) * catalog[pi].price
			}
			order.GrandTotal = math.Round(order.GrandTotal*100) / 100
			ds.Orders = append(ds.Orders, order)
		}

		for s, sender := range senders {
			for week := range 4 {
				sends := int64(500 + rng.IntN(2000))
				opens := sends * int64(10+rng.IntN(30)) / 100
				clicks := opens * int64(5+rng.IntN(20)) / 100
				ds.Campaigns = append(ds.Campaigns, db.CampaignSend{
					SendDate: month.AddDate(0, 0, week*7+s).
						Format("02/01/2006"),
					Sender:       sender,
					ContentID:    fmt.Sprintf("c-%d-%d-%d", m, s, week),
					Subject:      fmt.Sprintf("%s #%d", sender, m*4+week+1),
					Sends:        sends,
					UniqueOpens:  opens,
					UniqueClicks: clicks,
					Unsubscribes: sends * int64(rng.IntN(5)) / 1000,
				})
			}
		}
	}
	return ds
}

// poolctl exercises a Database end-to-end against the in-memory
// reference driver: it opens a pool, inserts and queries a few rows,
// forces one retryable failure, and prints pool statistics along the
// way. Of the scenarios in SPEC_FULL.md §8 it runs only S4 (one injected
// retryable failure); the others are covered by the package tests.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"dbpool"
	"dbpool/driver"
	"dbpool/internal/refdriver"
	"dbpool/stmtcache"
)

func main() {
	dsn := flag.String("dsn", "mem://local?initial_pool_size=1&max_pool_size=2&max_idle_pool_size=2", "database URL")
	flag.Parse()

	rd := refdriver.New()
	dbpool.Register("mem", rd)

	db, err := dbpool.Open(*dsn)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	log.Printf("stats after open: %+v", db.Stats())

	for i := 0; i < 3; i++ {
		if _, err := db.Exec(ctx, "insert widgets", driver.Value(int64(i)), driver.Value("widget")); err != nil {
			log.Fatalf("insert %d: %v", i, err)
		}
	}

	rows, err := db.Query(ctx, "select widgets")
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	for rows.Next(ctx) {
		id, err := stmtcache.ReadColumn[int64](rows, 0)
		if err != nil {
			log.Fatalf("read id: %v", err)
		}
		name, err := stmtcache.ReadColumn[string](rows, 1)
		if err != nil {
			log.Fatalf("read name: %v", err)
		}
		log.Printf("row: id=%d name=%s (types: %s, %s)", id, name, rows.ColumnType(0), rows.ColumnType(1))
	}
	rows.Close()

	rd.FailNext(1)
	err = db.Retry(ctx, func(ctx context.Context) error {
		_, err := db.Exec(ctx, "insert widgets", driver.Value(int64(99)), driver.Value("retried"))
		return err
	})
	if err != nil {
		log.Fatalf("retry exec: %v", err)
	}
	log.Print("retry exec succeeded after one injected failure")

	time.Sleep(10 * time.Millisecond)
	log.Printf("final stats: %+v", db.Stats())
}

// Command example-obkv is a minimal, direct usage example of the
// client library: connect, then loop a handful of representative table
// operations on a timer until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	obkv "github.com/oceanbase/obkv-table-client-go"
	"github.com/oceanbase/obkv-table-client-go/partition"
	"github.com/oceanbase/obkv-table-client-go/transport"
)

const defaultBootstrap = "127.0.0.1:2882"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func getBootstrap() string {
	if v := os.Getenv("OBKV_BOOTSTRAP"); v != "" {
		return v
	}
	return defaultBootstrap
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := getBootstrap()
	client, err := obkv.NewClient(ctx, obkv.ClientConfig{
		BootstrapAddresses: []string{addr},
		Credentials:        transport.Credentials{Tenant: "test", User: "root"},
		PartitionStrategy:  partition.PrefixStrategy(1),
		OperationTimeout:   5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer func() { _ = client.Close() }()
	fmt.Printf("connected to obkv via %s\n", addr)

	tbl := client.Table("users")

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		doUpsertAndGet(ctx, tbl, i)
		doIncrement(ctx, tbl, i)
		doBatch(ctx, tbl, i)

		if i%3 == 0 {
			doRangeScan(ctx, tbl, i)
		}

		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func doUpsertAndGet(ctx context.Context, tbl *obkv.Table, i int) {
	key := []obkv.Value{obkv.NewInt64(int64(i))}
	name := fmt.Sprintf("user-%d", i)

	if _, err := tbl.InsertOrUpdate(ctx, key, []string{"name", "email"}, []obkv.Value{
		obkv.NewString(name), obkv.NewString(name + "@example.com"),
	}); err != nil {
		log.Printf("insert_or_update: %v", err)
		return
	}

	row, err := tbl.Get(ctx, key, "name")
	if err != nil {
		log.Printf("get: %v", err)
		return
	}
	got, _ := row.Get("name")
	fmt.Printf("[%d] upserted + read back %s\n", i, got.GoString())
}

func doIncrement(ctx context.Context, tbl *obkv.Table, i int) {
	key := []obkv.Value{obkv.NewInt64(int64(i))}
	n, err := tbl.Increment(ctx, key, []string{"visits"}, []obkv.Value{obkv.NewInt64(1)})
	if err != nil {
		log.Printf("increment: %v", err)
		return
	}
	fmt.Printf("[%d] incremented visits (affected rows: %d)\n", i, n)
}

func doBatch(ctx context.Context, tbl *obkv.Table, i int) {
	batch := obkv.NewBatch()
	for j := range 3 {
		key := []obkv.Value{obkv.NewInt64(int64(1000*i + j))}
		batch.Add(obkv.Operation{
			Kind:         obkv.OpInsertOrUpdate,
			RowKey:       key,
			ColumnNames:  []string{"name"},
			ColumnValues: []obkv.Value{obkv.NewString(fmt.Sprintf("batch-%d-%d", i, j))},
		})
	}

	results, err := tbl.Batch(ctx, batch)
	if err != nil {
		log.Printf("batch: %v", err)
		return
	}
	fmt.Printf("[%d] batch wrote %d rows\n", i, len(results))
}

func doRangeScan(ctx context.Context, tbl *obkv.Table, i int) {
	q, err := obkv.NewQueryBuilder("users").
		AddScanRange([]obkv.Value{obkv.NewInt64(0)}, true, []obkv.Value{obkv.NewInt64(int64(i))}, true).
		BatchSize(20).
		Build()
	if err != nil {
		log.Printf("build query: %v", err)
		return
	}

	cur := tbl.Query(q)
	defer func() { _ = cur.Close(ctx) }()

	count := 0
	for {
		_, ok, err := cur.Next(ctx)
		if err != nil {
			log.Printf("scan: %v", err)
			return
		}
		if !ok {
			break
		}
		count++
	}
	fmt.Printf("[%d] range scan matched %d rows\n", i, count)
}

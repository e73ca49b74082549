package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO blob_state(container,payload) VALUES($1,$2) ON CONFLICT(container) DO UPDATE SET payload=EXCLUDED.payload"
	for _, payload := range []string{"v1", "v2"} {
		if _, err := conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: "box"}, {Value: []byte(payload)}}); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	rows := conn.Rows("blob_state")
	if len(rows) != 1 || string(rows[0]["payload"].([]byte)) != "v2" {
		t.Fatalf("expected upsert to replace the row, got %v", rows)
	}

	qr, err := conn.QueryContext(ctx, "SELECT container, payload FROM blob_state", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := qr.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "box" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	_ = qr.Close()

	res, err := conn.ExecContext(ctx, "DELETE FROM blob_state WHERE container = $1", []driver.NamedValue{{Value: "box"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 || len(conn.Rows("blob_state")) != 0 {
		t.Fatalf("expected delete to remove the row, affected %d", n)
	}
}

func TestStubDBFailurePoints(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Fail[FailPing] = true
	conn.Fail[FailExec] = true
	conn.Fail[FailQuery] = true
	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE x(id text)", nil); err == nil {
		t.Fatalf("expected exec failure")
	}
	if _, err := conn.QueryContext(ctx, "SELECT id FROM x", nil); err == nil {
		t.Fatalf("expected query failure")
	}
	if len(conn.Execs) != 1 {
		t.Fatalf("failed execs are still recorded, got %v", conn.Execs)
	}
}

package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/dbranch/dbranch/internal/digest"
)

// DriverName is the sqlite3 driver variant every tracked-database connection
// uses. Its connect hook registers the dbranch SQL functions, so capture
// triggers can stamp transaction ids and operators can digest tables from
// plain SQL.
const DriverName = "dbranch_sqlite3"

var registerDriver sync.Once

// txCounter hands out process-wide transaction stamps. Stamps order a
// session's own records; no cross-session ordering is implied.
var txCounter atomic.Int64

// connState is the per-connection function state. The pool is capped at one
// connection, so this is effectively per-session.
type connState struct {
	current atomic.Int64
}

func ensureDriver() {
	registerDriver.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: connectHook,
		})
	})
}

func connectHook(conn *sqlite3.SQLiteConn) error {
	state := &connState{}

	// dbr_txid stamps every capture and audit row written in the current
	// transaction with the same id, allocating lazily on first use.
	txid := func() int64 {
		if id := state.current.Load(); id != 0 {
			return id
		}
		id := txCounter.Add(1)
		state.current.Store(id)
		return id
	}
	if err := conn.RegisterFunc("dbr_txid", txid, false); err != nil {
		return fmt.Errorf("register dbr_txid: %w", err)
	}

	// dbr_txid_clear ends the current stamp scope. The session calls it at
	// statement and transaction boundaries.
	clearStamp := func() int64 {
		state.current.Store(0)
		return 0
	}
	if err := conn.RegisterFunc("dbr_txid_clear", clearStamp, false); err != nil {
		return fmt.Errorf("register dbr_txid_clear: %w", err)
	}

	// dbr_digest scans over a separate read connection, so it sees data that
	// may be mutating underneath it. That is why it must not be registered
	// as a pure function: the engine would otherwise be free to cache or
	// reorder calls as if the result were stable.
	path := conn.GetFilename("main")
	digestFn := func(table string, batchSize int64) (string, error) {
		return digestFile(path, table, int(batchSize))
	}
	if err := conn.RegisterFunc("dbr_digest", digestFn, false); err != nil {
		return fmt.Errorf("register dbr_digest: %w", err)
	}
	return nil
}

// digestFile digests one table through a short-lived plain connection.
func digestFile(path, table string, batchSize int) (string, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", fmt.Errorf("digest %s: open %s: %w", table, path, err)
	}
	defer db.Close()
	return digest.New(db).Digest(context.Background(), table, batchSize)
}

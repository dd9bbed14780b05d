// Package dbsession provides reference-counted connection leasing and nested
// transactions over pooled SQL databases.
//
// A Session multiplexes logical operations onto one pooled connection so that
// queries, batch executions and transactions issued together observe the same
// connection state. Transactions nest: the first one started on a session
// issues BEGIN/COMMIT/ROLLBACK, every inner one is emulated with SAVEPOINT,
// RELEASE SAVEPOINT and ROLLBACK TO SAVEPOINT on the same connection.
//
// The session layer maintains a few hard guarantees:
//
//   - A session holds at most one pooled connection, no matter how many
//     leases are outstanding, and it holds one exactly while the lease count
//     is positive; the last release returns the connection to the pool.
//   - A started transaction holds one lease until Commit or Rollback, and
//     both drop it in every outcome, database errors included.
//   - At most one root transaction is open per session; only the transaction
//     that claimed root gives it back.
//   - Connect-path errors are safe to log by default; statement text and
//     argument values never appear in error messages.
//
// Backends register themselves via side-effect imports, in the manner of
// database/sql drivers:
//
//	import (
//		"github.com/go-dbsession/dbsession"
//		_ "github.com/go-dbsession/dbsession/postgres"
//	)
//
//	db, err := dbsession.New(dbsession.Config{URL: "postgres://app:secret@db:5432/app"})
//
// Sessions and transactions are single-goroutine objects; the Database and
// the pools behind it are safe for concurrent use.
package dbsession

package dbsession

import (
	"context"
	"strings"

	"github.com/go-dbsession/dbsession/driver"
	"github.com/google/uuid"
)

type txState uint8

const (
	txUnstarted txState = iota
	txActive
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txUnstarted:
		return "unstarted"
	case txActive:
		return "active"
	case txCommitted:
		return "already committed"
	case txRolledBack:
		return "already rolled back"
	default:
		return "in an unknown state"
	}
}

// Transaction is a unit of work on a session's connection. The first
// transaction started on a session becomes the root and issues real
// BEGIN/COMMIT/ROLLBACK; any transaction started while the root is open
// becomes a savepoint and emulates nesting with SAVEPOINT, RELEASE SAVEPOINT
// and ROLLBACK TO SAVEPOINT. Root-ness is decided at Start time, not at
// construction.
//
// A started transaction holds one connection lease until Commit or Rollback,
// and exactly one of those must be called. Both always drop the lease,
// whether or not the database verb succeeded.
type Transaction struct {
	session   *Session
	state     txState
	isRoot    bool
	savepoint string
	conn      driver.Conn
}

// Start begins the transaction, claiming root if the session has no root
// transaction open. On failure every session mutation is undone: the root
// claim is returned and the lease released, leaving both the session and the
// transaction as they were.
func (t *Transaction) Start(ctx context.Context) error {
	if t.state != txUnstarted {
		return usageErrorf("cannot start a transaction that is %s", t.state)
	}

	claimedRoot := false
	if !t.session.hasRootTx {
		t.session.hasRootTx = true
		t.isRoot = true
		claimedRoot = true
	}

	conn, err := t.session.AcquireConnection(ctx)
	if err != nil {
		if claimedRoot {
			t.session.hasRootTx = false
			t.isRoot = false
		}
		return err
	}
	t.conn = conn

	if t.isRoot {
		if err := conn.Begin(ctx); err != nil {
			err = &StatementError{SQL: "BEGIN", cause: err}
			return t.undoStart(claimedRoot, err)
		}
	} else {
		t.savepoint = savepointName()
		if err := t.execControl(ctx, "SAVEPOINT "+t.savepoint); err != nil {
			return t.undoStart(claimedRoot, err)
		}
	}

	t.state = txActive
	return nil
}

func (t *Transaction) undoStart(claimedRoot bool, err error) error {
	relErr := t.session.ReleaseConnection()
	if claimedRoot {
		t.session.hasRootTx = false
		t.isRoot = false
	}
	t.conn = nil
	t.savepoint = ""
	return joinCleanup(err, relErr)
}

// Commit finishes the transaction: the root commits the connection-level
// transaction, a savepoint is released. The connection lease is dropped in
// every outcome and the transaction reaches its terminal state even when the
// database verb fails, so session accounting never wedges on a driver error.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != txActive {
		return usageErrorf("cannot commit a transaction that is %s", t.state)
	}

	var opErr error
	if t.isRoot {
		if err := t.conn.Commit(ctx); err != nil {
			opErr = &StatementError{SQL: "COMMIT", cause: err}
		}
		t.session.hasRootTx = false
	} else {
		opErr = t.execControl(ctx, "RELEASE SAVEPOINT "+t.savepoint)
	}

	t.state = txCommitted
	t.conn = nil
	return joinCleanup(opErr, t.session.ReleaseConnection())
}

// Rollback aborts the transaction: the root rolls back the connection-level
// transaction, a savepoint rolls back to its mark. Lease and terminal-state
// rules match Commit.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.state != txActive {
		return usageErrorf("cannot roll back a transaction that is %s", t.state)
	}

	var opErr error
	if t.isRoot {
		if err := t.conn.Rollback(ctx); err != nil {
			opErr = &StatementError{SQL: "ROLLBACK", cause: err}
		}
		t.session.hasRootTx = false
	} else {
		opErr = t.execControl(ctx, "ROLLBACK TO SAVEPOINT "+t.savepoint)
	}

	t.state = txRolledBack
	t.conn = nil
	return joinCleanup(opErr, t.session.ReleaseConnection())
}

// execControl issues a transaction-control statement through a short-lived
// cursor on the transaction's connection.
func (t *Transaction) execControl(ctx context.Context, sql string) error {
	cur := t.conn.Cursor()
	execErr := cur.Execute(ctx, sql, nil)
	err := joinCleanup(execErr, cur.Close())
	if err != nil {
		return &StatementError{SQL: sql, cause: err}
	}
	return nil
}

// savepointName generates a process-unique savepoint identifier. Hyphens
// become underscores so the name needs no quoting, and at 49 bytes it stays
// inside every backend's identifier limit.
func savepointName() string {
	return "dbsession_sp_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-dbsession/dbsession"
	"github.com/go-dbsession/dbsession/driver"
)

func TestIntegration_PostgresE2E(t *testing.T) {
	url := integrationURL(t)
	db := waitForDatabase(t, url)
	t.Cleanup(func() {
		if err := db.Disconnect(); err != nil {
			t.Errorf("disconnect: %s", sanitizeErrorMessage(err))
		}
	})

	schema := integrationSchemaName(t)
	table := qualifiedTable(schema, "notes")

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelSetup()

	mustNoErr(t, db.Execute(setupCtx, dbsession.RawQuery(fmt.Sprintf("CREATE SCHEMA %s", quoteIdent(schema)))), "create schema")
	mustNoErr(t, db.Execute(setupCtx, dbsession.RawQuery(fmt.Sprintf(`
CREATE TABLE %s (
	id BIGSERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	created TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table))), "create table")

	t.Cleanup(func() {
		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelCleanup()
		if err := db.Execute(cleanupCtx, dbsession.RawQuery(fmt.Sprintf("DROP SCHEMA %s CASCADE", quoteIdent(schema)))); err != nil {
			t.Errorf("cleanup drop schema failed: %s", sanitizeErrorMessage(err))
		}
	})

	noteCols := []driver.Column{
		driver.Col("id", driver.Int64),
		driver.Col("text", driver.String),
		driver.Col("completed", driver.Bool),
		driver.Col("created", driver.Time),
	}
	selectAll := dbsession.Q(
		fmt.Sprintf("SELECT id, text, completed, created FROM %s ORDER BY id", table),
		noteCols...,
	)
	insertOne := dbsession.Q(
		fmt.Sprintf("INSERT INTO %s (text, completed) VALUES (:text, :done)", table),
	)

	t.Run("ping", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		mustNoErr(t, db.Ping(ctx), "ping")
	})

	t.Run("queries_in_isolation_session", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := db.Session(ctx, dbsession.WithRollbackIsolation())
		mustNoErr(t, err, "open session")
		defer func() { mustNoErr(t, s.Close(), "close session") }()

		mustNoErr(t, s.Execute(ctx, insertOne.Bind(dbsession.Values{"text": "buy milk", "done": false})), "insert single")
		mustNoErr(t, s.ExecuteMany(ctx, insertOne, []dbsession.Values{
			{"text": "water plants", "done": true},
			{"text": "call mom", "done": false},
		}), "insert batch")
		mustNoErr(t, s.ExecuteMany(ctx, insertOne, nil), "insert empty batch")

		records, err := s.FetchAll(ctx, selectAll)
		mustNoErr(t, err, "fetch all")
		if len(records) != 3 {
			t.Fatalf("records=%d, want 3", len(records))
		}

		text, err := records[0].String("text")
		mustNoErr(t, err, "read text")
		if text != "buy milk" {
			t.Fatalf("text=%q, want %q", text, "buy milk")
		}
		done, err := records[1].Bool("completed")
		mustNoErr(t, err, "read completed")
		if !done {
			t.Fatal("completed=false, want true")
		}
		created, err := records[2].Time("created")
		mustNoErr(t, err, "read created")
		if created.IsZero() {
			t.Fatal("created is zero, want a server timestamp")
		}

		first, err := s.FetchOne(ctx, selectAll)
		mustNoErr(t, err, "fetch one")
		id, err := first.Int64("id")
		mustNoErr(t, err, "read id")
		if id <= 0 {
			t.Fatalf("id=%d, want positive", id)
		}

		var seen []string
		mustNoErr(t, s.Iterate(ctx, selectAll, func(r dbsession.Record) error {
			v, err := r.String("text")
			if err != nil {
				return err
			}
			seen = append(seen, v)
			return nil
		}), "iterate")
		if len(seen) != 3 || seen[0] != "buy milk" {
			t.Fatalf("iterated=%v, want all rows in id order", seen)
		}
	})

	t.Run("rollback_isolation_discards_writes", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := db.Session(ctx, dbsession.WithRollbackIsolation())
		mustNoErr(t, err, "open isolation session")
		mustNoErr(t, s.Execute(ctx, insertOne.Bind(dbsession.Values{"text": "ephemeral", "done": false})), "insert in isolation")
		mustNoErr(t, s.Close(), "close isolation session")

		records, err := db.FetchAll(ctx, selectAll)
		mustNoErr(t, err, "fetch after isolation")
		if len(records) != 0 {
			t.Fatalf("records=%d, want isolation session writes discarded", len(records))
		}
	})

	t.Run("transaction_commit_persists", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		err := db.WithTransaction(ctx, func(ctx context.Context, s *dbsession.Session) error {
			return s.Execute(ctx, insertOne.Bind(dbsession.Values{"text": "committed", "done": false}))
		})
		mustNoErr(t, err, "transaction commit")

		rec, err := db.FetchOne(ctx, selectAll)
		mustNoErr(t, err, "fetch committed row")
		text, err := rec.String("text")
		mustNoErr(t, err, "read text")
		if text != "committed" {
			t.Fatalf("text=%q, want %q", text, "committed")
		}

		mustNoErr(t, db.Execute(ctx, dbsession.RawQuery(fmt.Sprintf("DELETE FROM %s", table))), "cleanup rows")
	})

	t.Run("transaction_rollback_discards", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := db.Session(ctx)
		mustNoErr(t, err, "open session")
		defer func() { mustNoErr(t, s.Close(), "close session") }()

		tx := s.Transaction()
		mustNoErr(t, tx.Start(ctx), "start transaction")
		mustNoErr(t, s.Execute(ctx, insertOne.Bind(dbsession.Values{"text": "discarded", "done": false})), "insert in transaction")
		mustNoErr(t, tx.Rollback(ctx), "rollback transaction")

		_, err = s.FetchOne(ctx, selectAll)
		mustIs(t, err, dbsession.ErrNoRows, "fetch after rollback")
	})

	t.Run("nested_transaction_rollback", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := db.Session(ctx)
		mustNoErr(t, err, "open session")
		defer func() { mustNoErr(t, s.Close(), "close session") }()

		root := s.Transaction()
		mustNoErr(t, root.Start(ctx), "start root")
		mustNoErr(t, s.Execute(ctx, insertOne.Bind(dbsession.Values{"text": "keep", "done": false})), "insert kept row")

		nested := s.Transaction()
		mustNoErr(t, nested.Start(ctx), "start nested")
		mustNoErr(t, s.Execute(ctx, insertOne.Bind(dbsession.Values{"text": "drop", "done": false})), "insert dropped row")
		mustNoErr(t, nested.Rollback(ctx), "rollback nested")

		mustNoErr(t, root.Commit(ctx), "commit root")

		records, err := db.FetchAll(ctx, selectAll)
		mustNoErr(t, err, "fetch after nested rollback")
		if len(records) != 1 {
			t.Fatalf("records=%d, want only the pre-savepoint row", len(records))
		}
		text, err := records[0].String("text")
		mustNoErr(t, err, "read text")
		if text != "keep" {
			t.Fatalf("text=%q, want %q", text, "keep")
		}

		mustNoErr(t, db.Execute(ctx, dbsession.RawQuery(fmt.Sprintf("DELETE FROM %s", table))), "cleanup rows")
	})

	t.Run("statement_error_is_wrapped", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := db.Execute(ctx, dbsession.RawQuery("SELECT * FROM dbsession_no_such_table"))
		if err == nil {
			t.Fatal("expected error")
		}
		var se *dbsession.StatementError
		if !errors.As(err, &se) {
			t.Fatalf("error type=%T, want *dbsession.StatementError", err)
		}
	})
}

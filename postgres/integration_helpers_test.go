//go:build integration

package postgres

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bitcomplete/sqltestutil"
	"github.com/go-dbsession/dbsession"
)

var (
	integrationDSNURLPattern   = regexp.MustCompile(`(?i)postgres(?:ql)?://[^\s]+`)
	integrationPasswordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)
	integrationSchemaPattern   = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// integrationURL returns the URL for the integration run: DATABASE_URL when
// set, otherwise a disposable Postgres container.
func integrationURL(t *testing.T) string {
	t.Helper()

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := sqltestutil.StartPostgresContainer(ctx, "16")
	if err != nil {
		t.Fatalf("start postgres container: %s", sanitizeErrorMessage(err))
	}
	t.Cleanup(func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		if err := container.Shutdown(shutdownCtx); err != nil {
			t.Errorf("shutdown postgres container: %s", sanitizeErrorMessage(err))
		}
	})
	return container.ConnectionString()
}

// waitForDatabase connects with retries; a fresh container accepts TCP before
// it finishes recovery, so early attempts fail with "the database system is
// starting up" (SQLSTATE 57P03).
func waitForDatabase(t *testing.T, url string) *dbsession.Database {
	t.Helper()

	deadline := time.Now().Add(60 * time.Second)
	for {
		db, err := dbsession.New(dbsession.Config{URL: url, ConnectTimeout: 5 * time.Second})
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = db.Connect(ctx)
			cancel()
			if err == nil {
				return db
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("database never became ready: %s", sanitizeErrorMessage(err))
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func integrationSchemaName(t *testing.T) string {
	t.Helper()

	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("failed to generate random schema suffix: %s", sanitizeErrorMessage(err))
	}
	name := fmt.Sprintf("dbsession_it_%d_%x", time.Now().Unix(), binary.BigEndian.Uint32(b[:]))
	if !integrationSchemaPattern.MatchString(name) {
		t.Fatalf("generated invalid schema name: %q", name)
	}
	return name
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = integrationDSNURLPattern.ReplaceAllString(msg, "[REDACTED_DSN]")
	msg = integrationPasswordPattern.ReplaceAllString(msg, "password=[REDACTED]")
	return msg
}

func mustNoErr(t *testing.T, err error, operation string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", operation, sanitizeErrorMessage(err))
	}
}

func mustIs(t *testing.T, got error, want error, operation string) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("%s: got=%s want=%v", operation, sanitizeErrorMessage(got), want)
	}
}

package duckdb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/M2oDA-Lab/roq/pkg/errors"
)

// batchWriter inserts rows into one table through a single prepared
// statement bound to a transaction.
type batchWriter struct {
	table string
	stmt  *sql.Stmt
	rows  int
}

func newBatchWriter(ctx context.Context, tx *sql.Tx, table string, columns []string) (*batchWriter, error) {
	stmt, err := tx.PrepareContext(ctx, insertStmt(table, columns))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeStorage, "failed to prepare insert into %s", table)
	}
	return &batchWriter{table: table, stmt: stmt}, nil
}

// insertStmt returns, for table "t" and columns "a", "b":
//
//	INSERT INTO t (a, b) VALUES (?, ?)
func insertStmt(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	b.WriteString(")")
	return b.String()
}

func (w *batchWriter) Write(ctx context.Context, values ...interface{}) error {
	if _, err := w.stmt.ExecContext(ctx, values...); err != nil {
		return errors.Wrapf(err, errors.CodeStorage, "failed to insert row %d into %s", w.rows, w.table)
	}
	w.rows++
	return nil
}

func (w *batchWriter) Close() error {
	return w.stmt.Close()
}

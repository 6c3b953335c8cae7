package eventledger

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type stubRow struct {
	hash string
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.hash
	return nil
}

type stubQuerier struct {
	row  stubRow
	args []any
}

func (q *stubQuerier) QueryRow(ctx context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	if err := ctx.Err(); err != nil {
		return stubRow{err: err}
	}
	return q.row
}

func TestConfirmCommitted(t *testing.T) {
	entry := Entry{Index: 7, Hash: "abc"}
	commitErr := errors.New("unexpected EOF")

	tests := []struct {
		name string
		row  stubRow
		want bool
	}{
		{"row stored with same hash", stubRow{hash: "abc"}, true},
		{"row missing", stubRow{err: pgx.ErrNoRows}, false},
		{"different row at index", stubRow{hash: "other"}, false},
		{"re-read fails", stubRow{err: errors.New("connection refused")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &stubQuerier{row: tt.row}
			if got := confirmCommitted(context.Background(), q, entry, commitErr, zap.NewNop()); got != tt.want {
				t.Errorf("confirmCommitted = %v, want %v", got, tt.want)
			}
			if len(q.args) != 1 || q.args[0] != 7 {
				t.Errorf("queried with args %v, want [7]", q.args)
			}
		})
	}
}

func TestConfirmCommitted_ignoresCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &stubQuerier{row: stubRow{hash: "abc"}}
	if !confirmCommitted(ctx, q, Entry{Index: 1, Hash: "abc"}, context.Canceled, zap.NewNop()) {
		t.Error("a stored entry should be confirmed even when the request context is done")
	}
}

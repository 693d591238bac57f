package endpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS packets (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	seq INTEGER NOT NULL,
	label INTEGER NOT NULL,
	data BLOB,
	PRIMARY KEY (src, dst, seq)
);
CREATE TABLE IF NOT EXISTS lower_bounds (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	lower INTEGER NOT NULL,
	PRIMARY KEY (src, dst)
);`

var specialChars = regexp.MustCompile(`\W`)

// Filename maps an endpoint name to its database file under root.
func Filename(root, name string) string {
	return filepath.Join(root, specialChars.ReplaceAllString(name, "_")+".sqlite.db")
}

// SQLite is an Endpoint backed by one sqlite database file.
type SQLite struct {
	name     string
	path     string
	handlers []PacketHandler

	mu sync.Mutex
	db *sql.DB
}

var _ Endpoint = (*SQLite)(nil)

// NewSQLite creates the endpoint name stored under root. It is not opened.
func NewSQLite(root, name string, handlers ...PacketHandler) *SQLite {
	return &SQLite{name: name, path: Filename(root, name), handlers: handlers}
}

func (e *SQLite) Name() string { return e.name }

// Open opens the database, creating the directory and tables as needed.
// Opening an open endpoint does nothing.
func (e *SQLite) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return fmt.Errorf("endpoint: create mail root: %w", err)
	}
	db, err := sql.Open("sqlite3", e.path)
	if err != nil {
		return fmt.Errorf("endpoint: open %s: %w", e.path, err)
	}
	// A single connection serializes writers the way sqlite wants it.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("endpoint: create tables: %w", err)
	}
	e.db = db
	logrus.WithFields(logrus.Fields{"endpoint": e.name, "path": e.path}).Debug("endpoint: opened")
	return nil
}

func (e *SQLite) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	logrus.WithField("endpoint", e.name).Debug("endpoint: closed")
	return err
}

func (e *SQLite) handle() (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, ErrClosed
	}
	return e.db, nil
}

// withTx runs fn in a transaction, committing if it returns nil.
func (e *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := e.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lowerBound(ctx context.Context, q querier, src, dst string) (int64, error) {
	var lower int64
	err := q.QueryRowContext(ctx,
		`SELECT lower FROM lower_bounds WHERE src = ? AND dst = ?`, src, dst).Scan(&lower)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return lower, err
}

func bounds(ctx context.Context, q querier, src, dst string) (Bounds, error) {
	lower, err := lowerBound(ctx, q, src, dst)
	if err != nil {
		return Bounds{}, err
	}
	var last sql.NullInt64
	if err := q.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM packets WHERE src = ? AND dst = ?`, src, dst).Scan(&last); err != nil {
		return Bounds{}, err
	}
	b := Bounds{Lower: lower, Upper: lower}
	if last.Valid && last.Int64+1 > lower {
		b.Upper = last.Int64 + 1
	}
	return b, nil
}

func setLowerBound(ctx context.Context, tx *sql.Tx, src, dst string, lower int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO lower_bounds (src, dst, lower) VALUES (?, ?, ?)
		 ON CONFLICT (src, dst) DO UPDATE SET lower = excluded.lower`, src, dst, lower)
	return err
}

func (e *SQLite) Send(ctx context.Context, dst string, label int, data []byte) (int64, error) {
	var seq int64
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		b, err := bounds(ctx, tx, e.name, dst)
		if err != nil {
			return err
		}
		seq = b.Upper
		_, err = tx.ExecContext(ctx,
			`INSERT INTO packets (src, dst, seq, label, data) VALUES (?, ?, ?, ?, ?)`,
			e.name, dst, seq, label, data)
		return err
	})
	return seq, err
}

func (e *SQLite) Deliver(ctx context.Context, p Packet) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		lower, err := lowerBound(ctx, tx, p.Src, p.Dst)
		if err != nil {
			return err
		}
		if p.Seq < lower {
			return nil // already delivered
		}

		if p.Dst == e.name {
			for _, h := range e.handlers {
				if err := h(p); err != nil {
					return fmt.Errorf("endpoint: packet handler: %w", err)
				}
			}
			return setLowerBound(ctx, tx, p.Src, p.Dst, p.Seq+1)
		}

		var stored Packet
		err = tx.QueryRowContext(ctx,
			`SELECT src, dst, seq, label, data FROM packets WHERE src = ? AND dst = ? AND seq = ?`,
			p.Src, p.Dst, p.Seq).Scan(&stored.Src, &stored.Dst, &stored.Seq, &stored.Label, &stored.Data)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO packets (src, dst, seq, label, data) VALUES (?, ?, ?, ?, ?)`,
				p.Src, p.Dst, p.Seq, p.Label, p.Data)
			return err
		case err != nil:
			return err
		case stored.Equal(p):
			return nil
		default:
			return fmt.Errorf("%w: %s→%s #%d", ErrConflict, p.Src, p.Dst, p.Seq)
		}
	})
}

func (e *SQLite) Packets(ctx context.Context, src, dst string, lower int64, limit int) ([]Packet, error) {
	db, err := e.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT src, dst, seq, label, data FROM packets
		 WHERE src = ? AND dst = ? AND seq >= ? ORDER BY seq LIMIT ?`, src, dst, lower, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packets []Packet
	for rows.Next() {
		var p Packet
		if err := rows.Scan(&p.Src, &p.Dst, &p.Seq, &p.Label, &p.Data); err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, rows.Err()
}

func (e *SQLite) Bounds(ctx context.Context, src, dst string) (Bounds, error) {
	db, err := e.handle()
	if err != nil {
		return Bounds{}, err
	}
	return bounds(ctx, db, src, dst)
}

func (e *SQLite) UpdateLowerBound(ctx context.Context, src, dst string, lower int64) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lowerBound(ctx, tx, src, dst)
		if err != nil {
			return err
		}
		if lower <= current {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM packets WHERE src = ? AND dst = ? AND seq < ?`, src, dst, lower); err != nil {
			return err
		}
		return setLowerBound(ctx, tx, src, dst, lower)
	})
}

// Reset deletes every packet and bound.
func (e *SQLite) Reset(ctx context.Context) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM packets`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM lower_bounds`)
		return err
	})
}

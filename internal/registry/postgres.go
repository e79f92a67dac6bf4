package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"lan_presence/internal/dataType"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres keeps records in the identities table. Each operation is a
// single statement, so per-row atomicity comes from the database.
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: db ping error: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: migration error: %w", err)
	}
	return p, nil
}

func (p *Postgres) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, p.db, "migrations")
}

func (p *Postgres) Create(ctx context.Context, identity string) (dataType.IdentityRecord, error) {
	query :=
		`INSERT INTO identities (identity) VALUES ($1)
		 ON CONFLICT (identity) DO NOTHING`

	res, err := p.db.ExecContext(ctx, query, identity)
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: insert %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: insert %s: %w", identity, err)
	}
	if n == 0 {
		return dataType.IdentityRecord{}, ErrAlreadyExists
	}
	return newRecord(identity), nil
}

func (p *Postgres) Get(ctx context.Context, identity string) (dataType.IdentityRecord, error) {
	query :=
		`SELECT identity, last_seen, ip, port FROM identities
		 WHERE identity = $1`

	return p.scan(p.db.QueryRowContext(ctx, query, identity), identity)
}

func (p *Postgres) Update(ctx context.Context, identity string, pr dataType.Presence) (dataType.IdentityRecord, error) {
	query :=
		`UPDATE identities SET last_seen = $2, ip = $3, port = $4
		 WHERE identity = $1
		 RETURNING identity, last_seen, ip, port`

	return p.scan(p.db.QueryRowContext(ctx, query, identity, pr.LastSeen, pr.IP, pr.Port), identity)
}

func (p *Postgres) scan(row *sql.Row, identity string) (dataType.IdentityRecord, error) {
	var rec dataType.IdentityRecord
	err := row.Scan(&rec.Identity, &rec.LastSeen, &rec.IP, &rec.Port)
	if errors.Is(err, sql.ErrNoRows) {
		return dataType.IdentityRecord{}, ErrNotFound
	}
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: query %s: %w", identity, err)
	}
	return rec, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

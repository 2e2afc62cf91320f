package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres keeps every document as one jsonb row.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Postgres{db: db, logger: logger.Named("storage")}, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, p.db, "migrations")
}

func (p *Postgres) Close() {
	if p.db != nil {
		_ = p.db.Close()
	}
}

func (p *Postgres) Load(ctx context.Context, name string, out any) error {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = $1`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p.saveRaw(ctx, name, emptyDocument(out))
		}
		return fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		p.logger.Warn("corrupt document reset", zap.String("name", name), zap.Error(err))
		return p.saveRaw(ctx, name, emptyDocument(out))
	}
	return nil
}

func (p *Postgres) Save(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return p.saveRaw(ctx, name, data)
}

func (p *Postgres) saveRaw(ctx context.Context, name string, body []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (name, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, name, string(body))
	return err
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"linkpipe/internal/models"
)

// ErrLinkNotFound is returned for unknown short codes.
var ErrLinkNotFound = models.ErrLinkNotFound

var ErrDuplicateCode = models.ErrDuplicateCode

const uniqueViolation = "23505"

type Link struct {
	db *sql.DB
}

func NewPostgresLinkRepository(db *sql.DB) *Link {
	return &Link{db: db}
}

// Open connects to dsn and checks the database answers.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

func (r *Link) FindByOriginalURL(ctx context.Context, originalURL string) (string, error) {
	var shortCode string
	err := r.db.QueryRowContext(ctx,
		"SELECT short_code FROM links WHERE original_url = $1 ORDER BY id LIMIT 1", originalURL).Scan(&shortCode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return shortCode, err
}

func (r *Link) FindByShortCode(ctx context.Context, shortCode string) (models.Link, error) {
	var link models.Link
	err := r.db.QueryRowContext(ctx,
		"SELECT id, short_code, original_url, clicks, max_clicks, created_at FROM links WHERE short_code = $1",
		shortCode,
	).Scan(&link.ID, &link.ShortCode, &link.OriginalURL, &link.Clicks, &link.MaxClicks, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Link{}, fmt.Errorf("%w: %s", ErrLinkNotFound, shortCode)
	}
	if err != nil {
		return models.Link{}, err
	}
	return link, nil
}

func (r *Link) Insert(ctx context.Context, link models.Link) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO links (short_code, original_url, max_clicks, created_at) VALUES ($1, $2, $3, COALESCE($4, NOW()))",
		link.ShortCode, link.OriginalURL, link.MaxClicks, nullTime(link),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, link.ShortCode)
	}
	return err
}

// IncrementClicks bumps the counter in a single statement inside its own
// transaction on a dedicated connection, which is released on every path.
func (r *Link) IncrementClicks(ctx context.Context, shortCode string) (int64, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var clicks int64
	err = tx.QueryRowContext(ctx,
		"UPDATE links SET clicks = clicks + 1 WHERE short_code = $1 RETURNING clicks", shortCode).Scan(&clicks)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrLinkNotFound, shortCode)
	}
	if err != nil {
		return 0, fmt.Errorf("increment clicks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return clicks, nil
}

func nullTime(link models.Link) sql.NullTime {
	return sql.NullTime{Time: link.CreatedAt, Valid: !link.CreatedAt.IsZero()}
}

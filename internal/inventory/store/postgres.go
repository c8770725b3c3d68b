package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/internal/platform/postgres"
	"lagerkoll/pkg/platform/sentinel"
	"lagerkoll/pkg/platform/tx"
)

// Postgres persists the inventory tables. Cascades are handled by foreign
// keys; DetachUser also clears references explicitly so it behaves the same
// when called before the user row is removed.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// writeErr maps constraint violations onto sentinel errors.
func writeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case postgres.IsUniqueViolation(err):
		return sentinel.ErrAlreadyUsed
	case postgres.IsForeignKeyViolation(err):
		return sentinel.ErrReferenceMissing
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanOne[T any](row scanner, scan func(scanner) (*T, error)) (*T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return v, err
}

func scanAll[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	out := []*T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Articles

const articleSelect = `
SELECT a.id, a.article_number, a.description, a.location, a.created_at, a.updated_at,
       COALESCE(SUM(c.count), 0), COUNT(c.id)
FROM articles a
LEFT JOIN inventory_counts c ON c.article_id = a.id`

func scanArticle(row scanner) (*models.Article, error) {
	var a models.Article
	if err := row.Scan(&a.ID, &a.ArticleNumber, &a.Description, &a.Location,
		&a.CreatedAt, &a.UpdatedAt, &a.TotalCounted, &a.CountEntries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan article: %w", err)
	}
	return &a, nil
}

func (s *Postgres) CreateArticle(ctx context.Context, a *models.Article) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx,
		`INSERT INTO articles (id, article_number, description, location, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ArticleNumber, a.Description, a.Location, a.CreatedAt, a.UpdatedAt)
	return writeErr("insert article", err)
}

func (s *Postgres) UpdateArticle(ctx context.Context, a *models.Article) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE articles SET article_number = $2, description = $3, location = $4, updated_at = $5 WHERE id = $1`,
		a.ID, a.ArticleNumber, a.Description, a.Location, a.UpdatedAt)
	if err != nil {
		return writeErr("update article", err)
	}
	return requireOneRow(res)
}

func (s *Postgres) DeleteArticle(ctx context.Context, id uuid.UUID) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	return requireOneRow(res)
}

func (s *Postgres) FindArticle(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, articleSelect+` WHERE a.id = $1 GROUP BY a.id`, id)
	return scanOne(row, scanArticle)
}

func (s *Postgres) FindArticleByNumber(ctx context.Context, number string) (*models.Article, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, articleSelect+` WHERE a.article_number = $1 GROUP BY a.id`, number)
	return scanOne(row, scanArticle)
}

func (s *Postgres) ListArticles(ctx context.Context) ([]*models.Article, error) {
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, articleSelect+` GROUP BY a.id ORDER BY a.article_number`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return scanAll(rows, scanArticle)
}

// Order lines

const orderLineColumns = `id, order_number, article_number, description, quantity, pick_status,
inventoried, inventoried_by, inventoried_at, created_at, updated_at`

func scanOrderLine(row scanner) (*models.OrderLine, error) {
	var (
		l  models.OrderLine
		by uuid.NullUUID
		at sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.OrderNumber, &l.ArticleNumber, &l.Description, &l.Quantity,
		&l.PickStatus, &l.Inventoried, &by, &at, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order line: %w", err)
	}
	if by.Valid {
		l.InventoriedBy = &by.UUID
	}
	if at.Valid {
		l.InventoriedAt = &at.Time
	}
	return &l, nil
}

func (s *Postgres) CreateOrderLine(ctx context.Context, l *models.OrderLine) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx,
		`INSERT INTO order_lines (`+orderLineColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.OrderNumber, l.ArticleNumber, l.Description, l.Quantity, l.PickStatus,
		l.Inventoried, nullUUID(l.InventoriedBy), l.InventoriedAt, l.CreatedAt, l.UpdatedAt)
	return writeErr("insert order line", err)
}

func (s *Postgres) UpdateOrderLine(ctx context.Context, l *models.OrderLine) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE order_lines SET order_number = $2, article_number = $3, description = $4, quantity = $5,
		 pick_status = $6, inventoried = $7, inventoried_by = $8, inventoried_at = $9, updated_at = $10
		 WHERE id = $1`,
		l.ID, l.OrderNumber, l.ArticleNumber, l.Description, l.Quantity, l.PickStatus,
		l.Inventoried, nullUUID(l.InventoriedBy), l.InventoriedAt, l.UpdatedAt)
	if err != nil {
		return writeErr("update order line", err)
	}
	return requireOneRow(res)
}

func (s *Postgres) DeleteOrderLine(ctx context.Context, id uuid.UUID) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `DELETE FROM order_lines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order line: %w", err)
	}
	return requireOneRow(res)
}

// FindOrderLine locks the row when called inside a transaction so concurrent
// inventory marks serialize.
func (s *Postgres) FindOrderLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error) {
	query := `SELECT ` + orderLineColumns + ` FROM order_lines WHERE id = $1`
	if _, inTx := tx.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, query, id)
	return scanOne(row, scanOrderLine)
}

func (s *Postgres) ListOrderLines(ctx context.Context, filter models.OrderLineFilter) ([]*models.OrderLine, error) {
	var (
		where []string
		args  []any
	)
	if filter.OrderNumber != "" {
		args = append(args, filter.OrderNumber)
		where = append(where, fmt.Sprintf("order_number = $%d", len(args)))
	}
	query := `SELECT ` + orderLineColumns + ` FROM order_lines`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY order_number, article_number, created_at`

	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	return scanAll(rows, scanOrderLine)
}

// Inventory counts

const countColumns = `id, article_id, user_id, count, note, created_at, updated_at`

func scanCount(row scanner) (*models.InventoryCount, error) {
	var (
		c    models.InventoryCount
		user uuid.NullUUID
	)
	if err := row.Scan(&c.ID, &c.ArticleID, &user, &c.Count, &c.Note, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan inventory count: %w", err)
	}
	if user.Valid {
		c.UserID = &user.UUID
	}
	return &c, nil
}

func (s *Postgres) CreateCount(ctx context.Context, c *models.InventoryCount) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx,
		`INSERT INTO inventory_counts (`+countColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ArticleID, nullUUID(c.UserID), c.Count, c.Note, c.CreatedAt, c.UpdatedAt)
	return writeErr("insert inventory count", err)
}

func (s *Postgres) UpdateCount(ctx context.Context, c *models.InventoryCount) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE inventory_counts SET article_id = $2, user_id = $3, count = $4, note = $5, updated_at = $6 WHERE id = $1`,
		c.ID, c.ArticleID, nullUUID(c.UserID), c.Count, c.Note, c.UpdatedAt)
	if err != nil {
		return writeErr("update inventory count", err)
	}
	return requireOneRow(res)
}

func (s *Postgres) DeleteCount(ctx context.Context, id uuid.UUID) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `DELETE FROM inventory_counts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete inventory count: %w", err)
	}
	return requireOneRow(res)
}

func (s *Postgres) FindCount(ctx context.Context, id uuid.UUID) (*models.InventoryCount, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT `+countColumns+` FROM inventory_counts WHERE id = $1`, id)
	return scanOne(row, scanCount)
}

func (s *Postgres) ListCounts(ctx context.Context, filter models.InventoryCountFilter) ([]*models.InventoryCount, error) {
	query := `SELECT ` + countColumns + ` FROM inventory_counts`
	var args []any
	if filter.ArticleID != uuid.Nil {
		query += ` WHERE article_id = $1`
		args = append(args, filter.ArticleID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory counts: %w", err)
	}
	return scanAll(rows, scanCount)
}

func (s *Postgres) DetachUser(ctx context.Context, userID uuid.UUID) error {
	conn := tx.Conn(ctx, s.db)
	if _, err := conn.ExecContext(ctx, `UPDATE inventory_counts SET user_id = NULL WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("detach user from counts: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE order_lines SET inventoried_by = NULL WHERE inventoried_by = $1`, userID); err != nil {
		return fmt.Errorf("detach user from order lines: %w", err)
	}
	return nil
}

// ClearAll empties the inventory tables in one statement. Users are kept.
func (s *Postgres) ClearAll(ctx context.Context) error {
	if _, err := tx.Conn(ctx, s.db).ExecContext(ctx, `TRUNCATE inventory_counts, order_lines, articles`); err != nil {
		return fmt.Errorf("clear inventory data: %w", err)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

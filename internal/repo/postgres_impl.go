package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// -- Users --

func (r *PostgresStore) EnsureUser(ctx context.Context, externalID string, isAdmin bool) (*User, error) {
	const q = `
INSERT INTO users (external_id, is_admin)
VALUES ($1, $2)
ON CONFLICT (external_id) DO UPDATE SET
    is_admin = (users.is_admin OR EXCLUDED.is_admin)
RETURNING id, external_id, is_admin, created_at;
`
	var u User
	if err := r.pool.QueryRow(ctx, q, externalID, isAdmin).Scan(&u.ID, &u.ExternalID, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

func (r *PostgresStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	const q = `
SELECT id, external_id, is_admin, created_at
FROM users
WHERE external_id = $1
LIMIT 1;
`
	var u User
	err := r.pool.QueryRow(ctx, q, externalID).Scan(&u.ID, &u.ExternalID, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by external id: %w", err)
	}
	return &u, nil
}

// -- Categories --

func (r *PostgresStore) CreateCategory(ctx context.Context, title string) (*Category, error) {
	const q = `
INSERT INTO categories (title, active)
VALUES ($1, TRUE)
RETURNING id, title, active, created_at;
`
	var c Category
	if err := r.pool.QueryRow(ctx, q, title).Scan(&c.ID, &c.Title, &c.Active, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &c, nil
}

func (r *PostgresStore) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	q := `SELECT id, title, active, created_at FROM categories ORDER BY id;`
	if activeOnly {
		q = `SELECT id, title, active, created_at FROM categories WHERE active ORDER BY id;`
	}
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Title, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

func (r *PostgresStore) SetCategoryActive(ctx context.Context, id int64, active bool) error {
	const q = `UPDATE categories SET active = $2 WHERE id = $1;`
	return r.execOne(ctx, q, "set category active", id, active)
}

func (r *PostgresStore) UpdateCategoryTitle(ctx context.Context, id int64, title string) error {
	const q = `UPDATE categories SET title = $2 WHERE id = $1;`
	return r.execOne(ctx, q, "update category title", id, title)
}

// DeleteCategory orphans the category's courses rather than cascading:
// purchases reference courses and must survive category removal.
func (r *PostgresStore) DeleteCategory(ctx context.Context, id int64) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE courses SET category_id = NULL WHERE category_id = $1;`, id); err != nil {
			return fmt.Errorf("orphan courses: %w", err)
		}
		ct, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1;`, id)
		if err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// -- Courses --

func (r *PostgresStore) CreateCourse(ctx context.Context, in CourseInput) (*Course, error) {
	const q = `
INSERT INTO courses (category_id, title, description, price, currency, link, token)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + courseColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		in.CategoryID,
		in.Title,
		in.Description,
		in.Price,
		in.Currency,
		in.Link,
		newCourseToken(),
	)
	return scanCourse(row)
}

func (r *PostgresStore) GetCourse(ctx context.Context, id int64) (*Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 LIMIT 1;`
	return scanCourse(r.pool.QueryRow(ctx, q, id))
}

func (r *PostgresStore) GetCourseByToken(ctx context.Context, token string) (*Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE token = $1 LIMIT 1;`
	return scanCourse(r.pool.QueryRow(ctx, q, token))
}

func (r *PostgresStore) ListCoursesByCategory(ctx context.Context, categoryID int64) ([]Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE category_id = $1 ORDER BY id;`
	return r.queryCourses(ctx, q, categoryID)
}

func (r *PostgresStore) ListCourses(ctx context.Context) ([]Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses ORDER BY id;`
	return r.queryCourses(ctx, q)
}

func (r *PostgresStore) FindCourseByPrice(ctx context.Context, price int64, currency string) (*Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE price = $1 AND currency = $2 ORDER BY id LIMIT 1;`
	return scanCourse(r.pool.QueryRow(ctx, q, price, currency))
}

func (r *PostgresStore) UpdateCourseField(ctx context.Context, id int64, field CourseField, value string) error {
	var q string
	var arg any = value
	switch field {
	case FieldTitle:
		q = `UPDATE courses SET title = $2 WHERE id = $1;`
	case FieldDescription:
		q = `UPDATE courses SET description = $2 WHERE id = $1;`
	case FieldLink:
		q = `UPDATE courses SET link = $2 WHERE id = $1;`
	case FieldPrice:
		price, err := strconv.ParseInt(value, 10, 64)
		if err != nil || price <= 0 {
			return fmt.Errorf("invalid price value %q", value)
		}
		q = `UPDATE courses SET price = $2 WHERE id = $1;`
		arg = price
	default:
		return fmt.Errorf("unknown course field %q", field)
	}
	return r.execOne(ctx, q, "update course "+string(field), id, arg)
}

func (r *PostgresStore) DeleteCourse(ctx context.Context, id int64) error {
	const q = `DELETE FROM courses WHERE id = $1;`
	return r.execOne(ctx, q, "delete course", id)
}

// -- Purchases --

// RecordPurchase inserts a purchase row unless one already exists for the
// (user, course) pair; the schema-level uniqueness constraint makes the
// operation safe under redelivered payment confirmations. Returns true
// when a row was actually inserted.
func (r *PostgresStore) RecordPurchase(ctx context.Context, userID, courseID int64, at time.Time, payload string) (bool, error) {
	const q = `
INSERT INTO purchases (user_id, course_id, created_at, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, course_id) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, userID, courseID, at.UTC(), payload)
	if err != nil {
		return false, fmt.Errorf("record purchase: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresStore) HasPurchase(ctx context.Context, userID, courseID int64) (bool, error) {
	const q = `SELECT 1 FROM purchases WHERE user_id = $1 AND course_id = $2 LIMIT 1;`
	var one int
	err := r.pool.QueryRow(ctx, q, userID, courseID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has purchase: %w", err)
	}
	return true, nil
}

func (r *PostgresStore) ListPurchasesByUser(ctx context.Context, userID int64) ([]Purchase, error) {
	const q = `
SELECT id, user_id, course_id, created_at, payload
FROM purchases
WHERE user_id = $1
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.CourseID, &p.CreatedAt, &p.Payload); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return purchases, nil
}

// -- Helpers --

func (r *PostgresStore) execOne(ctx context.Context, q, op string, args ...any) error {
	ct, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) queryCourses(ctx context.Context, q string, args ...any) ([]Course, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.CategoryID, &c.Title, &c.Description, &c.Price, &c.Currency, &c.Link, &c.Token, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return courses, nil
}

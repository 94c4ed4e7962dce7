package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// -- Users --

func (r *SQLiteStore) EnsureUser(ctx context.Context, externalID string, isAdmin bool) (*User, error) {
	// An existing user keeps their row; the admin flag only ever gets
	// promoted (startup re-ensures the configured admin).
	const q = `
INSERT INTO users (external_id, is_admin)
VALUES (?, ?)
ON CONFLICT (external_id) DO UPDATE SET
    is_admin = (users.is_admin OR excluded.is_admin)
RETURNING id, external_id, is_admin, created_at;
`
	row := r.db.QueryRowContext(ctx, q, externalID, isAdmin)
	var u User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	const q = `
SELECT id, external_id, is_admin, created_at
FROM users
WHERE external_id = ?
LIMIT 1;
`
	var u User
	err := r.db.QueryRowContext(ctx, q, externalID).Scan(&u.ID, &u.ExternalID, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by external id: %w", err)
	}
	return &u, nil
}

// -- Categories --

func (r *SQLiteStore) CreateCategory(ctx context.Context, title string) (*Category, error) {
	const q = `
INSERT INTO categories (title, active)
VALUES (?, 1)
RETURNING id, title, active, created_at;
`
	var c Category
	if err := r.db.QueryRowContext(ctx, q, title).Scan(&c.ID, &c.Title, &c.Active, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &c, nil
}

func (r *SQLiteStore) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	q := `SELECT id, title, active, created_at FROM categories ORDER BY id;`
	if activeOnly {
		q = `SELECT id, title, active, created_at FROM categories WHERE active = 1 ORDER BY id;`
	}
	rows, err := r.db.QueryContext(ctx, q)
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

func (r *SQLiteStore) SetCategoryActive(ctx context.Context, id int64, active bool) error {
	const q = `UPDATE categories SET active = ? WHERE id = ?;`
	return r.execOne(ctx, q, "set category active", active, id)
}

func (r *SQLiteStore) UpdateCategoryTitle(ctx context.Context, id int64, title string) error {
	const q = `UPDATE categories SET title = ? WHERE id = ?;`
	return r.execOne(ctx, q, "update category title", title, id)
}

// DeleteCategory orphans the category's courses rather than cascading:
// purchases reference courses and must survive category removal.
func (r *SQLiteStore) DeleteCategory(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete category: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE courses SET category_id = NULL WHERE category_id = ?;`, id); err != nil {
		return fmt.Errorf("orphan courses: %w", err)
	}
	ct, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete category: %w", err)
	}
	return nil
}

// -- Courses --

const courseColumns = `id, category_id, title, description, price, currency, link, token, created_at`

func (r *SQLiteStore) CreateCourse(ctx context.Context, in CourseInput) (*Course, error) {
	token := newCourseToken()
	const q = `
INSERT INTO courses (category_id, title, description, price, currency, link, token)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + courseColumns + `;`
	row := r.db.QueryRowContext(ctx, q,
		in.CategoryID,
		in.Title,
		in.Description,
		in.Price,
		in.Currency,
		in.Link,
		token,
	)
	return scanCourse(row)
}

func (r *SQLiteStore) GetCourse(ctx context.Context, id int64) (*Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE id = ? LIMIT 1;`
	return scanCourse(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLiteStore) GetCourseByToken(ctx context.Context, token string) (*Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE token = ? LIMIT 1;`
	return scanCourse(r.db.QueryRowContext(ctx, q, token))
}

func (r *SQLiteStore) ListCoursesByCategory(ctx context.Context, categoryID int64) ([]Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE category_id = ? ORDER BY id;`
	return r.queryCourses(ctx, q, categoryID)
}

func (r *SQLiteStore) ListCourses(ctx context.Context) ([]Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses ORDER BY id;`
	return r.queryCourses(ctx, q)
}

// FindCourseByPrice returns the course with the lowest id matching the
// exact (price, currency) pair. Used as the fallback path when a payment
// payload does not resolve.
func (r *SQLiteStore) FindCourseByPrice(ctx context.Context, price int64, currency string) (*Course, error) {
	const q = `SELECT ` + courseColumns + ` FROM courses WHERE price = ? AND currency = ? ORDER BY id LIMIT 1;`
	return scanCourse(r.db.QueryRowContext(ctx, q, price, currency))
}

func (r *SQLiteStore) UpdateCourseField(ctx context.Context, id int64, field CourseField, value string) error {
	q, arg, err := courseFieldUpdate(field, value)
	if err != nil {
		return err
	}
	return r.execOne(ctx, q, "update course "+string(field), arg, id)
}

func (r *SQLiteStore) DeleteCourse(ctx context.Context, id int64) error {
	const q = `DELETE FROM courses WHERE id = ?;`
	return r.execOne(ctx, q, "delete course", id)
}

// -- Purchases --

// RecordPurchase inserts a purchase row unless one already exists for the
// (user, course) pair. The uniqueness constraint lives in the schema, so
// concurrent or redelivered confirmations cannot create a second row.
// Returns true when a row was actually inserted.
func (r *SQLiteStore) RecordPurchase(ctx context.Context, userID, courseID int64, at time.Time, payload string) (bool, error) {
	const q = `
INSERT INTO purchases (user_id, course_id, created_at, payload)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, course_id) DO NOTHING;
`
	ct, err := r.db.ExecContext(ctx, q, userID, courseID, at.UTC(), payload)
	if err != nil {
		return false, fmt.Errorf("record purchase: %w", err)
	}
	n, err := ct.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record purchase rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteStore) HasPurchase(ctx context.Context, userID, courseID int64) (bool, error) {
	const q = `SELECT 1 FROM purchases WHERE user_id = ? AND course_id = ? LIMIT 1;`
	var one int
	err := r.db.QueryRowContext(ctx, q, userID, courseID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has purchase: %w", err)
	}
	return true, nil
}

func (r *SQLiteStore) ListPurchasesByUser(ctx context.Context, userID int64) ([]Purchase, error) {
	const q = `
SELECT id, user_id, course_id, created_at, payload
FROM purchases
WHERE user_id = ?
ORDER BY created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
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

func (r *SQLiteStore) execOne(ctx context.Context, q, op string, args ...any) error {
	ct, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteStore) queryCourses(ctx context.Context, q string, args ...any) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(row rowScanner) (*Course, error) {
	var c Course
	err := row.Scan(&c.ID, &c.CategoryID, &c.Title, &c.Description, &c.Price, &c.Currency, &c.Link, &c.Token, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan course: %w", err)
	}
	return &c, nil
}

// courseFieldUpdate maps an editable field to its fixed UPDATE statement.
// Column names are never interpolated from input.
func courseFieldUpdate(field CourseField, value string) (q string, arg any, err error) {
	switch field {
	case FieldTitle:
		return `UPDATE courses SET title = ? WHERE id = ?;`, value, nil
	case FieldDescription:
		return `UPDATE courses SET description = ? WHERE id = ?;`, value, nil
	case FieldLink:
		return `UPDATE courses SET link = ? WHERE id = ?;`, value, nil
	case FieldPrice:
		price, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil || price <= 0 {
			return "", nil, fmt.Errorf("invalid price value %q", value)
		}
		return `UPDATE courses SET price = ? WHERE id = ?;`, price, nil
	default:
		return "", nil, fmt.Errorf("unknown course field %q", field)
	}
}

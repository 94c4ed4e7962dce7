package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the interface for catalog persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	EnsureUser(ctx context.Context, externalID string, isAdmin bool) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)

	// Categories
	CreateCategory(ctx context.Context, title string) (*Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]Category, error)
	SetCategoryActive(ctx context.Context, id int64, active bool) error
	UpdateCategoryTitle(ctx context.Context, id int64, title string) error
	DeleteCategory(ctx context.Context, id int64) error

	// Courses
	CreateCourse(ctx context.Context, in CourseInput) (*Course, error)
	GetCourse(ctx context.Context, id int64) (*Course, error)
	GetCourseByToken(ctx context.Context, token string) (*Course, error)
	ListCoursesByCategory(ctx context.Context, categoryID int64) ([]Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
	FindCourseByPrice(ctx context.Context, price int64, currency string) (*Course, error)
	UpdateCourseField(ctx context.Context, id int64, field CourseField, value string) error
	DeleteCourse(ctx context.Context, id int64) error

	// Purchases
	RecordPurchase(ctx context.Context, userID, courseID int64, at time.Time, payload string) (bool, error)
	HasPurchase(ctx context.Context, userID, courseID int64) (bool, error)
	ListPurchasesByUser(ctx context.Context, userID int64) ([]Purchase, error)
}

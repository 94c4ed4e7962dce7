package repo

import "time"

// User represents the users table row. ExternalID is the chat platform
// identity; ID is the internal surrogate key.
type User struct {
	ID         int64
	ExternalID string
	IsAdmin    bool
	CreatedAt  time.Time
}

// Category groups courses. Inactive categories are hidden from browsing
// but never deleted out from under existing courses.
type Category struct {
	ID        int64
	Title     string
	Active    bool
	CreatedAt time.Time
}

// Course is a sellable catalog entry. Price is in minor currency units.
// Token is an opaque unique identifier assigned at creation and used to
// reference the course from payment payloads.
type Course struct {
	ID          int64
	CategoryID  *int64
	Title       string
	Description string
	Price       int64
	Currency    string
	Link        string
	Token       string
	CreatedAt   time.Time
}

// CourseInput carries the fields required to create a course.
type CourseInput struct {
	CategoryID  int64
	Title       string
	Description string
	Price       int64
	Currency    string
	Link        string
}

// Purchase records that a user paid for a course. Unique per (user, course).
type Purchase struct {
	ID        int64
	UserID    int64
	CourseID  int64
	CreatedAt time.Time
	Payload   string
}

// CourseField names a mutable course column for field-by-field edits.
type CourseField string

const (
	FieldTitle       CourseField = "title"
	FieldDescription CourseField = "description"
	FieldPrice       CourseField = "price"
	FieldLink        CourseField = "link"
)

// Valid reports whether the field is one of the editable course columns.
func (f CourseField) Valid() bool {
	switch f {
	case FieldTitle, FieldDescription, FieldPrice, FieldLink:
		return true
	}
	return false
}

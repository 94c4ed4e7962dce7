package repo

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"bot-kursus/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return store
}

func TestEnsureUserPromotesAdminFlag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	u, err := store.EnsureUser(ctx, "628123@s.whatsapp.net", false)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if u.IsAdmin {
		t.Fatal("expected non-admin user")
	}

	promoted, err := store.EnsureUser(ctx, "628123@s.whatsapp.net", true)
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if promoted.ID != u.ID {
		t.Fatalf("expected same internal id, got %d and %d", u.ID, promoted.ID)
	}
	if !promoted.IsAdmin {
		t.Fatal("expected admin flag promoted")
	}

	// The flag never demotes.
	again, err := store.EnsureUser(ctx, "628123@s.whatsapp.net", false)
	if err != nil {
		t.Fatalf("ensure user third time: %v", err)
	}
	if !again.IsAdmin {
		t.Fatal("admin flag must not demote")
	}
}

func TestRecordPurchaseIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user, err := store.EnsureUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	cat, err := store.CreateCategory(ctx, "Programming")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	course, err := store.CreateCourse(ctx, CourseInput{
		CategoryID: cat.ID, Title: "Go Basics", Description: "intro",
		Price: 1999, Currency: "USD", Link: "https://x",
	})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	inserted, err := store.RecordPurchase(ctx, user.ID, course.ID, time.Now(), `{"ref":"abc"}`)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if !inserted {
		t.Fatal("expected first purchase to insert")
	}

	inserted, err = store.RecordPurchase(ctx, user.ID, course.ID, time.Now(), `{"ref":"abc"}`)
	if err != nil {
		t.Fatalf("record purchase again: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate purchase to be a silent no-op")
	}

	purchases, err := store.ListPurchasesByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("expected exactly one purchase row, got %d", len(purchases))
	}

	has, err := store.HasPurchase(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("has purchase: %v", err)
	}
	if !has {
		t.Fatal("expected purchase to exist")
	}
}

func TestDeleteCategoryOrphansCourses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user, _ := store.EnsureUser(ctx, "u1", false)
	cat, err := store.CreateCategory(ctx, "Design")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	course, err := store.CreateCourse(ctx, CourseInput{
		CategoryID: cat.ID, Title: "Figma", Price: 500, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	if _, err := store.RecordPurchase(ctx, user.ID, course.ID, time.Now(), ""); err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	if err := store.DeleteCategory(ctx, cat.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	got, err := store.GetCourse(ctx, course.ID)
	if err != nil {
		t.Fatalf("course must survive category deletion: %v", err)
	}
	if got.CategoryID != nil {
		t.Fatalf("expected nulled category reference, got %v", *got.CategoryID)
	}

	has, err := store.HasPurchase(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("has purchase: %v", err)
	}
	if !has {
		t.Fatal("purchase history must survive category deletion")
	}
}

func TestGetCourseByTokenAndPriceFallbackOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cat, _ := store.CreateCategory(ctx, "Misc")
	first, err := store.CreateCourse(ctx, CourseInput{CategoryID: cat.ID, Title: "A", Price: 1000, Currency: "IDR"})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	if _, err := store.CreateCourse(ctx, CourseInput{CategoryID: cat.ID, Title: "B", Price: 1000, Currency: "IDR"}); err != nil {
		t.Fatalf("create second course: %v", err)
	}

	if first.Token == "" {
		t.Fatal("expected generated token")
	}
	byToken, err := store.GetCourseByToken(ctx, first.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if byToken.ID != first.ID {
		t.Fatalf("expected course %d, got %d", first.ID, byToken.ID)
	}

	// Two courses share (price, currency); the lowest id wins.
	match, err := store.FindCourseByPrice(ctx, 1000, "IDR")
	if err != nil {
		t.Fatalf("find by price: %v", err)
	}
	if match.ID != first.ID {
		t.Fatalf("expected lowest-id match %d, got %d", first.ID, match.ID)
	}

	if _, err := store.FindCourseByPrice(ctx, 42, "EUR"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCourseFieldValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cat, _ := store.CreateCategory(ctx, "Misc")
	course, err := store.CreateCourse(ctx, CourseInput{CategoryID: cat.ID, Title: "Old", Price: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	if err := store.UpdateCourseField(ctx, course.ID, FieldTitle, "New"); err != nil {
		t.Fatalf("update title: %v", err)
	}
	if err := store.UpdateCourseField(ctx, course.ID, FieldPrice, "2500"); err != nil {
		t.Fatalf("update price: %v", err)
	}
	if err := store.UpdateCourseField(ctx, course.ID, FieldPrice, "abc"); err == nil {
		t.Fatal("expected error for non-numeric price")
	}
	if err := store.UpdateCourseField(ctx, course.ID, CourseField("token"), "x"); err == nil {
		t.Fatal("expected error for non-editable field")
	}

	got, err := store.GetCourse(ctx, course.ID)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if got.Title != "New" || got.Price != 2500 {
		t.Fatalf("unexpected course after edits: title=%q price=%d", got.Title, got.Price)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bot-kursus/internal/metrics"
	"bot-kursus/internal/pay"
	"bot-kursus/internal/repo"
	"bot-kursus/migrations"
)

type recordingSender struct {
	texts []string
}

func (r *recordingSender) SendText(_ context.Context, _, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

type recordingApprover struct {
	refs []string
	err  error
}

func (r *recordingApprover) ApprovePreCheckout(_ context.Context, ref string) error {
	if r.err != nil {
		return r.err
	}
	r.refs = append(r.refs, ref)
	return nil
}

type paymentFixture struct {
	processor *PaymentProcessor
	store     repo.Store
	sender    *recordingSender
	approver  *recordingApprover
	course    *repo.Course
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cat, err := store.CreateCategory(ctx, "Programming")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	course, err := store.CreateCourse(ctx, repo.CourseInput{
		CategoryID: cat.ID,
		Title:      "Go Basics",
		Price:      1999,
		Currency:   "USD",
		Link:       "https://courses.example/go-basics",
	})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	sender := &recordingSender{}
	approver := &recordingApprover{}
	processor := NewPaymentProcessor(store, approver, sender, metrics.Registry("paytest"), slog.Default())
	return &paymentFixture{processor: processor, store: store, sender: sender, approver: approver, course: course}
}

func successEvent(t *testing.T, payload string, amount int64, currency string) pay.WebhookEvent {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"ref":      "inv-1",
		"customer": "buyer@s.whatsapp.net",
		"payload":  payload,
		"amount":   amount,
		"currency": currency,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return pay.WebhookEvent{
		Type:       pay.EventPaymentSuccess,
		Payload:    body,
		ReceivedAt: time.Now(),
	}
}

func TestPreCheckoutAlwaysApproved(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	event := pay.WebhookEvent{
		Type:    pay.EventPreCheckout,
		Payload: json.RawMessage(`{"ref":"inv-7"}`),
	}
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("handle pre-checkout: %v", err)
	}
	if len(f.approver.refs) != 1 || f.approver.refs[0] != "inv-7" {
		t.Fatalf("expected approval for inv-7, got %v", f.approver.refs)
	}
}

func TestPaymentSuccessRecordsAndDelivers(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	event := successEvent(t, pay.BuildPayload(f.course.ID), 1999, "USD")
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("handle payment: %v", err)
	}

	user, err := f.store.GetUserByExternalID(ctx, "buyer@s.whatsapp.net")
	if err != nil {
		t.Fatalf("payer not created: %v", err)
	}
	purchases, err := f.store.ListPurchasesByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 1 || purchases[0].CourseID != f.course.ID {
		t.Fatalf("expected one purchase for the course, got %+v", purchases)
	}
	if len(f.sender.texts) != 1 || !strings.Contains(f.sender.texts[0], f.course.Link) {
		t.Fatalf("expected delivery with course link, got %v", f.sender.texts)
	}
}

func TestDuplicatePaymentDeliversOnce(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	event := successEvent(t, pay.BuildPayload(f.course.ID), 1999, "USD")
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("retried event must be acknowledged: %v", err)
	}

	user, _ := f.store.GetUserByExternalID(ctx, "buyer@s.whatsapp.net")
	purchases, _ := f.store.ListPurchasesByUser(ctx, user.ID)
	if len(purchases) != 1 {
		t.Fatalf("expected exactly one purchase row, got %d", len(purchases))
	}
	if len(f.sender.texts) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(f.sender.texts))
	}
}

func TestPaymentFallsBackToPriceMatch(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	// Payload points at a course that no longer exists; amount and currency
	// still identify the surviving one.
	event := successEvent(t, fmt.Sprintf("course:%d:deadbeef", f.course.ID+100), 1999, "usd")
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("handle payment: %v", err)
	}

	user, _ := f.store.GetUserByExternalID(ctx, "buyer@s.whatsapp.net")
	purchases, _ := f.store.ListPurchasesByUser(ctx, user.ID)
	if len(purchases) != 1 || purchases[0].CourseID != f.course.ID {
		t.Fatalf("expected price-matched purchase, got %+v", purchases)
	}
}

func TestUnmatchedPaymentKeptWithoutPurchase(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	event := successEvent(t, "garbage", 555, "EUR")
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("unmatched payment must be acknowledged: %v", err)
	}

	user, _ := f.store.GetUserByExternalID(ctx, "buyer@s.whatsapp.net")
	purchases, _ := f.store.ListPurchasesByUser(ctx, user.ID)
	if len(purchases) != 0 {
		t.Fatalf("unmatched payment must not record a purchase, got %+v", purchases)
	}
	if len(f.sender.texts) != 1 {
		t.Fatalf("expected one unmatched notice, got %v", f.sender.texts)
	}
}

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	event := pay.WebhookEvent{Type: "refund.created", Payload: json.RawMessage(`{}`)}
	if err := f.processor.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("unknown event must not error: %v", err)
	}
	if len(f.sender.texts) != 0 || len(f.approver.refs) != 0 {
		t.Fatal("unknown event must have no side effects")
	}
}

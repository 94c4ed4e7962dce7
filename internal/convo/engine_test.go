package convo

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bot-kursus/internal/metrics"
	"bot-kursus/internal/pay"
	"bot-kursus/internal/repo"
	"bot-kursus/internal/session"
	"bot-kursus/migrations"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	menus []string
}

func (f *fakeSender) SendText(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendMenu(_ context.Context, _, title string, options []MenuOption) error {
	ids := make([]string, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.ID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, title+"|"+strings.Join(ids, ","))
	return nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no text sent")
	}
	return f.texts[len(f.texts)-1]
}

type fakeGateway struct {
	requests      []pay.InvoiceRequest
	notConfigured bool
}

func (f *fakeGateway) CreateInvoice(_ context.Context, req pay.InvoiceRequest) (*pay.Invoice, error) {
	if f.notConfigured {
		return nil, pay.ErrNotConfigured
	}
	f.requests = append(f.requests, req)
	return &pay.Invoice{Ref: "inv-1", PayURL: "https://pay.example/inv-1"}, nil
}

type testEnv struct {
	engine   *Engine
	store    repo.Store
	sessions *session.Store
	sender   *fakeSender
	gateway  *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
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

	sessions := session.NewStore()
	sender := &fakeSender{}
	gateway := &fakeGateway{}
	engine := New(store, sessions, nil, gateway, sender, metrics.Registry("convotest"), slog.Default(), EngineConfig{DefaultCurrency: "USD"})
	return &testEnv{engine: engine, store: store, sessions: sessions, sender: sender, gateway: gateway}
}

const (
	adminID = "admin@s.whatsapp.net"
	userID  = "user@s.whatsapp.net"
)

func (env *testEnv) asAdmin(t *testing.T) {
	t.Helper()
	if _, err := env.store.EnsureUser(context.Background(), adminID, true); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
}

func TestAddCourseWizardHappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)

	env.engine.HandleText(ctx, adminID, "admin_add_category")
	env.engine.HandleText(ctx, adminID, "Programming")
	if got := env.sender.lastText(t); !strings.Contains(got, "Programming") {
		t.Fatalf("expected category confirmation, got %q", got)
	}

	env.engine.HandleText(ctx, adminID, "admin_add_course")
	env.engine.HandleCallback(ctx, adminID, "category:1")
	env.engine.HandleText(ctx, adminID, "Go Basics")
	env.engine.HandleText(ctx, adminID, "intro")
	env.engine.HandleText(ctx, adminID, "19.99")
	env.engine.HandleText(ctx, adminID, "https://x")

	courses, err := env.store.ListCourses(ctx)
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("expected exactly one course, got %d", len(courses))
	}
	c := courses[0]
	if c.Title != "Go Basics" || c.Description != "intro" || c.Price != 1999 || c.Currency != "USD" || c.Link != "https://x" {
		t.Fatalf("unexpected course: %+v", c)
	}
	if c.CategoryID == nil || *c.CategoryID != 1 {
		t.Fatalf("unexpected category reference: %v", c.CategoryID)
	}
	if c.Token == "" {
		t.Fatal("expected purchase token assigned")
	}
	if _, _, active := env.sessions.Current(adminID); active {
		t.Fatal("expected session cleared after completion")
	}
}

func TestInvalidPriceRepromptsSameStep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)
	env.engine.HandleText(ctx, adminID, "admin_add_category")
	env.engine.HandleText(ctx, adminID, "Misc")

	env.engine.HandleText(ctx, adminID, "admin_add_course")
	env.engine.HandleCallback(ctx, adminID, "category:1")
	env.engine.HandleText(ctx, adminID, "Course")
	env.engine.HandleText(ctx, adminID, "desc")

	env.engine.HandleText(ctx, adminID, "not a price")
	if _, step, _ := env.sessions.Current(adminID); step != session.StepAwaitingPrice {
		t.Fatalf("invalid input must not advance, step is %v", step)
	}
	if got := env.sender.lastText(t); got != textInvalidPrice {
		t.Fatalf("expected price re-prompt, got %q", got)
	}

	env.engine.HandleText(ctx, adminID, "20")
	env.engine.HandleText(ctx, adminID, "-")

	courses, _ := env.store.ListCourses(ctx)
	if len(courses) != 1 || courses[0].Price != 2000 || courses[0].Link != "" {
		t.Fatalf("unexpected courses: %+v", courses)
	}
}

func TestCancelClearsSessionWithoutMutations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)
	env.engine.HandleText(ctx, adminID, "admin_add_category")
	env.engine.HandleText(ctx, adminID, "Misc")

	env.engine.HandleText(ctx, adminID, "admin_add_course")
	env.engine.HandleCallback(ctx, adminID, "category:1")
	env.engine.HandleText(ctx, adminID, "Half Finished")
	env.engine.HandleText(ctx, adminID, "desc")
	env.engine.HandleText(ctx, adminID, "batal")

	if got := env.sender.lastText(t); got != textCancelled {
		t.Fatalf("expected cancel confirmation, got %q", got)
	}
	if _, _, active := env.sessions.Current(adminID); active {
		t.Fatal("expected session cleared")
	}
	courses, _ := env.store.ListCourses(ctx)
	if len(courses) != 0 {
		t.Fatalf("cancel must not create catalog rows, got %d", len(courses))
	}
}

func TestStartingNewWizardDiscardsPrevious(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)
	env.engine.HandleText(ctx, adminID, "admin_add_category")
	env.engine.HandleText(ctx, adminID, "Misc")

	env.engine.HandleText(ctx, adminID, "admin_add_course")
	env.engine.HandleCallback(ctx, adminID, "admin_add_category")

	if got := env.sender.lastText(t); !strings.HasPrefix(got, textDiscardedPrevious) {
		t.Fatalf("expected discard notice, got %q", got)
	}
	wizard, _, active := env.sessions.Current(adminID)
	if !active || wizard != session.WizardAddCategory {
		t.Fatalf("expected add_category session, got %v active=%v", wizard, active)
	}
}

func TestNonAdminDeniedWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.engine.HandleText(ctx, userID, "admin_add_category")
	if got := env.sender.lastText(t); got != textAdminOnly {
		t.Fatalf("expected denial, got %q", got)
	}
	if _, _, active := env.sessions.Current(userID); active {
		t.Fatal("denial must not start a session")
	}
}

func TestEditCourseWizard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)

	cat, _ := env.store.CreateCategory(ctx, "Misc")
	course, err := env.store.CreateCourse(ctx, repo.CourseInput{CategoryID: cat.ID, Title: "Old", Price: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	env.engine.HandleCallback(ctx, adminID, "editcourse:1")
	env.engine.HandleCallback(ctx, adminID, "editfield:price")
	env.engine.HandleText(ctx, adminID, "25.00")

	got, err := env.store.GetCourse(ctx, course.ID)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if got.Price != 2500 {
		t.Fatalf("expected price 2500, got %d", got.Price)
	}
	if _, _, active := env.sessions.Current(adminID); active {
		t.Fatal("expected session cleared after edit")
	}
}

func TestBuyIssuesInvoiceWithCoursePayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cat, _ := env.store.CreateCategory(ctx, "Misc")
	course, _ := env.store.CreateCourse(ctx, repo.CourseInput{CategoryID: cat.ID, Title: "Go Basics", Price: 1999, Currency: "USD"})

	env.engine.HandleCallback(ctx, userID, "buy:1")

	if len(env.gateway.requests) != 1 {
		t.Fatalf("expected one invoice request, got %d", len(env.gateway.requests))
	}
	req := env.gateway.requests[0]
	if req.Amount != 1999 || req.Currency != "USD" {
		t.Fatalf("unexpected invoice request: %+v", req)
	}
	id, ok := pay.ParsePayload(req.Payload)
	if !ok || id != course.ID {
		t.Fatalf("payload %q does not round-trip to course id", req.Payload)
	}
	if got := env.sender.lastText(t); !strings.Contains(got, "https://pay.example/inv-1") {
		t.Fatalf("expected pay url in reply, got %q", got)
	}
}

func TestBuyWithoutGatewayConfigured(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.gateway.notConfigured = true

	cat, _ := env.store.CreateCategory(ctx, "Misc")
	_, _ = env.store.CreateCourse(ctx, repo.CourseInput{CategoryID: cat.ID, Title: "Go Basics", Price: 1999, Currency: "USD"})

	env.engine.HandleCallback(ctx, userID, "buy:1")
	if got := env.sender.lastText(t); got != textPaymentUnavailable {
		t.Fatalf("expected unavailable notice, got %q", got)
	}

	// Browsing must keep working without a gateway.
	env.engine.HandleText(ctx, userID, "kursus")
	if len(env.sender.menus) == 0 {
		t.Fatal("expected category menu")
	}
}

func TestToggleCategoryHidesItFromBrowsing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)

	cat, _ := env.store.CreateCategory(ctx, "Programming")

	env.engine.HandleCallback(ctx, adminID, "togglecat:1")
	if got := env.sender.lastText(t); !strings.Contains(got, "Programming") {
		t.Fatalf("expected toggle confirmation, got %q", got)
	}

	env.engine.HandleText(ctx, userID, "kursus")
	if got := env.sender.lastText(t); got != textCategoryEmpty {
		t.Fatalf("hidden category must not be browsable, got %q", got)
	}

	env.engine.HandleCallback(ctx, adminID, "togglecat:1")
	env.engine.HandleText(ctx, userID, "kursus")
	if len(env.sender.menus) == 0 || !strings.Contains(env.sender.menus[len(env.sender.menus)-1], "category:1") {
		t.Fatalf("re-shown category %d must be browsable, menus: %v", cat.ID, env.sender.menus)
	}
}

// slowStore delays category writes so two copies of the same final-step
// message can race the terminal write.
type slowStore struct {
	repo.Store
	delay time.Duration
}

func (s *slowStore) CreateCategory(ctx context.Context, title string) (*repo.Category, error) {
	time.Sleep(s.delay)
	return s.Store.CreateCategory(ctx, title)
}

func TestDuplicateFinalMessageCreatesOneCategory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)

	slow := &slowStore{Store: env.store, delay: 150 * time.Millisecond}
	engine := New(slow, env.sessions, nil, env.gateway, env.sender, metrics.Registry("convotest"), slog.Default(), EngineConfig{DefaultCurrency: "USD"})

	engine.HandleText(ctx, adminID, "admin_add_category")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.HandleText(ctx, adminID, "Programming")
		}()
	}
	wg.Wait()

	categories, err := env.store.ListCategories(ctx, false)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(categories) != 1 {
		t.Fatalf("duplicated final message must create one category, got %d", len(categories))
	}
	if _, _, active := env.sessions.Current(adminID); active {
		t.Fatal("expected session cleared after completion")
	}
}

func TestWizardStoresCommandLookingTitleVerbatim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)

	if _, err := env.store.CreateCategory(ctx, "Misc"); err != nil {
		t.Fatalf("create category: %v", err)
	}

	env.engine.HandleText(ctx, adminID, "admin_add_course")
	env.engine.HandleCallback(ctx, adminID, "category:1")
	env.engine.HandleText(ctx, adminID, "buy:3")
	env.engine.HandleText(ctx, adminID, "desc")
	env.engine.HandleText(ctx, adminID, "20")
	env.engine.HandleText(ctx, adminID, "-")

	courses, err := env.store.ListCourses(ctx)
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if len(courses) != 1 || courses[0].Title != "buy:3" {
		t.Fatalf("title must be stored verbatim, got %+v", courses)
	}
	if len(env.gateway.requests) != 0 {
		t.Fatal("a typed title must not trigger a purchase")
	}
}

func TestDeleteUnknownCategory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.asAdmin(t)

	env.engine.HandleCallback(ctx, adminID, "delcat:99")
	if got := env.sender.lastText(t); got != textCategoryNotFound {
		t.Fatalf("expected not-found reply, got %q", got)
	}
}

func TestBuyUnknownCourse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.engine.HandleCallback(ctx, userID, "buy:99")
	if got := env.sender.lastText(t); got != textCourseNotFound {
		t.Fatalf("expected not-found reply, got %q", got)
	}
	if len(env.gateway.requests) != 0 {
		t.Fatal("no invoice may be issued for an unknown course")
	}
}

// Package convo implements the conversation engine: structured command
// routing, the admin wizards and the stateless browsing flow.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bot-kursus/internal/cache"
	"bot-kursus/internal/metrics"
	"bot-kursus/internal/pay"
	"bot-kursus/internal/repo"
	"bot-kursus/internal/session"
)

const (
	catalogCachePrefix = "catalog:"
	catalogCacheTTL    = 5 * time.Minute
)

// MenuOption is one selectable row in an outgoing menu. ID round-trips
// through ParseCommand when the user picks the row.
type MenuOption struct {
	ID          string
	Title       string
	Description string
}

// Sender delivers outgoing messages. Implemented by the WhatsApp client.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendMenu(ctx context.Context, to, title string, options []MenuOption) error
}

// InvoiceIssuer issues priced invoices for purchase requests.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, req pay.InvoiceRequest) (*pay.Invoice, error)
}

// EngineConfig carries engine-level settings.
type EngineConfig struct {
	DefaultCurrency string
}

type commandHandler func(ctx context.Context, user *repo.User, cmd Command) error

// Engine routes inbound messages: structured commands through a fixed
// routing table, free text through the active wizard or the text commands.
type Engine struct {
	store    repo.Store
	sessions *session.Store
	cache    *cache.Redis
	gateway  InvoiceIssuer
	sender   Sender
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      EngineConfig
	routes   map[CommandKind]commandHandler
}

// New builds the engine and its routing table.
func New(store repo.Store, sessions *session.Store, cacheClient *cache.Redis, gateway InvoiceIssuer, sender Sender, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg EngineConfig) *Engine {
	e := &Engine{
		store:    store,
		sessions: sessions,
		cache:    cacheClient,
		gateway:  gateway,
		sender:   sender,
		metrics:  metricRegistry,
		logger:   logger.With("component", "convo"),
		cfg:      cfg,
	}
	e.routes = map[CommandKind]commandHandler{
		CmdCategory:       e.handleCategory,
		CmdCourse:         e.handleCourse,
		CmdBuy:            e.handleBuy,
		CmdAdminCourse:    e.handleAdminCourse,
		CmdAddCategory:    e.handleAddCategory,
		CmdAddCourse:      e.handleAddCourse,
		CmdEditCourse:     e.handleEditCourse,
		CmdEditCategory:   e.handleEditCategory,
		CmdToggleCategory: e.handleToggleCategory,
		CmdEditField:      e.handleEditField,
		CmdDeleteCourse:   e.handleDeleteCourse,
		CmdDeleteCategory: e.handleDeleteCategory,
		CmdAdminCourses: func(ctx context.Context, user *repo.User, _ Command) error {
			return e.showAdminCourses(ctx, user)
		},
		CmdAdminCategories: func(ctx context.Context, user *repo.User, _ Command) error {
			return e.showAdminCategories(ctx, user)
		},
	}
	return e
}

// HandleText processes a plain text message from a user.
func (e *Engine) HandleText(ctx context.Context, from, text string) {
	user, err := e.store.EnsureUser(ctx, from, false)
	if err != nil {
		e.fail(ctx, from, "ensure user", err)
		return
	}

	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if isCancel(lower) {
		e.handleCancel(ctx, user)
		return
	}

	// An active wizard owns the user's free text. Only a typed command the
	// current step accepts (e.g. a category pick) routes as a command; a
	// title that merely looks like one is stored verbatim.
	if _, _, active := e.sessions.Current(from); active {
		if cmd, ok := ParseCommand(trimmed); ok && e.wizardAccepts(from, cmd) {
			if err := e.handleWizardCommand(ctx, user, cmd); err != nil {
				e.fail(ctx, from, "wizard command", err)
			}
			return
		}
		if err := e.handleWizardInput(ctx, user, trimmed); err != nil {
			e.fail(ctx, from, "wizard input", err)
		}
		return
	}

	// Typed callback data works the same as a menu pick.
	if cmd, ok := ParseCommand(trimmed); ok {
		e.dispatch(ctx, user, cmd)
		return
	}

	var herr error
	switch lower {
	case "/start", "start", "mulai", "menu", "halo", "hi":
		herr = e.sender.SendText(ctx, from, textStart)
	case "tentang", "about", "info":
		herr = e.sender.SendText(ctx, from, textAbout)
	case "kursus", "katalog", "courses":
		herr = e.showCategories(ctx, user)
	case "riwayat", "pembelian":
		herr = e.showPurchases(ctx, user)
	case "admin":
		herr = e.showAdminMenu(ctx, user)
	case "kelola kursus":
		herr = e.showAdminCourses(ctx, user)
	case "kelola kategori":
		herr = e.showAdminCategories(ctx, user)
	default:
		herr = e.sender.SendText(ctx, from, textHelp)
	}
	if herr != nil {
		e.fail(ctx, from, "text command", herr)
	}
}

// HandleCallback processes a menu selection (callback data string).
func (e *Engine) HandleCallback(ctx context.Context, from, data string) {
	user, err := e.store.EnsureUser(ctx, from, false)
	if err != nil {
		e.fail(ctx, from, "ensure user", err)
		return
	}

	cmd, ok := ParseCommand(data)
	if !ok {
		e.logger.Warn("unparseable callback", "from", from, "data", data)
		_ = e.sender.SendText(ctx, from, textHelp)
		return
	}
	e.dispatch(ctx, user, cmd)
}

func (e *Engine) dispatch(ctx context.Context, user *repo.User, cmd Command) {
	// A menu pick that belongs to the user's active wizard step feeds the
	// wizard instead of the browse/admin routes.
	if e.wizardAccepts(user.ExternalID, cmd) {
		if err := e.handleWizardCommand(ctx, user, cmd); err != nil {
			e.fail(ctx, user.ExternalID, "wizard command", err)
		}
		return
	}

	handler, ok := e.routes[cmd.Kind]
	if !ok {
		e.logger.Warn("unrouted command", "kind", cmd.Kind)
		_ = e.sender.SendText(ctx, user.ExternalID, textHelp)
		return
	}
	if err := handler(ctx, user, cmd); err != nil {
		e.fail(ctx, user.ExternalID, "command", err)
	}
}

func (e *Engine) handleCancel(ctx context.Context, user *repo.User) {
	wizard, _, active := e.sessions.Current(user.ExternalID)
	if !active {
		_ = e.sender.SendText(ctx, user.ExternalID, textAdminIdle)
		return
	}
	e.sessions.Clear(user.ExternalID)
	e.metrics.WizardSteps.WithLabelValues(string(wizard), "cancelled").Inc()
	_ = e.sender.SendText(ctx, user.ExternalID, textCancelled)
}

// -- Browsing flow (stateless, read only) --

func (e *Engine) showCategories(ctx context.Context, user *repo.User) error {
	categories, err := e.listCategoriesCached(ctx, true)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		return e.sender.SendText(ctx, user.ExternalID, textCategoryEmpty)
	}
	options := make([]MenuOption, 0, len(categories))
	for _, c := range categories {
		options = append(options, MenuOption{
			ID:    CommandData(CmdCategory, c.ID),
			Title: c.Title,
		})
	}
	return e.sender.SendMenu(ctx, user.ExternalID, textChooseCategory, options)
}

func (e *Engine) handleCategory(ctx context.Context, user *repo.User, cmd Command) error {
	courses, err := e.listCoursesCached(ctx, cmd.ID)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		return e.sender.SendText(ctx, user.ExternalID, textCourseEmpty)
	}
	options := make([]MenuOption, 0, len(courses))
	for _, c := range courses {
		options = append(options, MenuOption{
			ID:          CommandData(CmdCourse, c.ID),
			Title:       c.Title,
			Description: FormatAmount(c.Price, c.Currency),
		})
	}
	return e.sender.SendMenu(ctx, user.ExternalID, textChooseCourse, options)
}

func (e *Engine) handleCourse(ctx context.Context, user *repo.User, cmd Command) error {
	course, err := e.store.GetCourse(ctx, cmd.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.sender.SendText(ctx, user.ExternalID, textCourseNotFound)
	}
	if err != nil {
		return err
	}
	detail := courseDetail(course)
	return e.sender.SendMenu(ctx, user.ExternalID, detail, []MenuOption{
		{ID: CommandData(CmdBuy, course.ID), Title: "Beli", Description: FormatAmount(course.Price, course.Currency)},
	})
}

func (e *Engine) showPurchases(ctx context.Context, user *repo.User) error {
	purchases, err := e.store.ListPurchasesByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(purchases) == 0 {
		return e.sender.SendText(ctx, user.ExternalID, textPurchaseEmpty)
	}
	var b strings.Builder
	b.WriteString("Pembelian kamu:\n")
	for _, p := range purchases {
		course, err := e.store.GetCourse(ctx, p.CourseID)
		if err != nil {
			e.logger.Warn("purchase references missing course", "course_id", p.CourseID, "error", err)
			continue
		}
		fmt.Fprintf(&b, "- %s (%s)\n", course.Title, p.CreatedAt.Format("2006-01-02"))
	}
	return e.sender.SendText(ctx, user.ExternalID, strings.TrimSpace(b.String()))
}

// -- Purchase request (reconciliation pipeline steps 1-2) --

func (e *Engine) handleBuy(ctx context.Context, user *repo.User, cmd Command) error {
	course, err := e.store.GetCourse(ctx, cmd.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.sender.SendText(ctx, user.ExternalID, textCourseNotFound)
	}
	if err != nil {
		return err
	}
	if course.Price <= 0 {
		return e.sender.SendText(ctx, user.ExternalID, textCourseNotSellable)
	}

	if has, err := e.store.HasPurchase(ctx, user.ID, course.ID); err == nil && has {
		if err := e.sender.SendText(ctx, user.ExternalID, textAlreadyPurchased); err != nil {
			return err
		}
		return e.sender.SendText(ctx, user.ExternalID, DeliveryMessage(course))
	}

	invoice, err := e.gateway.CreateInvoice(ctx, pay.InvoiceRequest{
		Customer:    user.ExternalID,
		Title:       course.Title,
		Description: course.Description,
		Amount:      course.Price,
		Currency:    course.Currency,
		Payload:     pay.BuildPayload(course.ID),
	})
	if errors.Is(err, pay.ErrNotConfigured) {
		return e.sender.SendText(ctx, user.ExternalID, textPaymentUnavailable)
	}
	if err != nil {
		e.logger.Error("invoice issuance failed", "course_id", course.ID, "error", err)
		e.metrics.Errors.WithLabelValues("invoice").Inc()
		return e.sender.SendText(ctx, user.ExternalID, textPaymentFailed)
	}

	msg := fmt.Sprintf(textInvoiceIssued, course.Title, FormatAmount(course.Price, course.Currency), invoice.PayURL)
	return e.sender.SendText(ctx, user.ExternalID, msg)
}

// -- Admin entry points --

func (e *Engine) requireAdmin(ctx context.Context, user *repo.User) bool {
	if user.IsAdmin {
		return true
	}
	_ = e.sender.SendText(ctx, user.ExternalID, textAdminOnly)
	return false
}

func (e *Engine) showAdminMenu(ctx context.Context, user *repo.User) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	return e.sender.SendMenu(ctx, user.ExternalID, textAdminMenu, []MenuOption{
		{ID: CommandData(CmdAddCourse, 0), Title: "Tambah kursus"},
		{ID: CommandData(CmdAddCategory, 0), Title: "Tambah kategori"},
		{ID: CommandData(CmdAdminCourses, 0), Title: "Kelola kursus"},
		{ID: CommandData(CmdAdminCategories, 0), Title: "Kelola kategori"},
	})
}

func (e *Engine) showAdminCourses(ctx context.Context, user *repo.User) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	courses, err := e.store.ListCourses(ctx)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		return e.sender.SendText(ctx, user.ExternalID, textAdminCoursesEmpty)
	}
	options := make([]MenuOption, 0, len(courses))
	for _, c := range courses {
		options = append(options, MenuOption{
			ID:          CommandData(CmdAdminCourse, c.ID),
			Title:       c.Title,
			Description: FormatAmount(c.Price, c.Currency),
		})
	}
	return e.sender.SendMenu(ctx, user.ExternalID, textChooseCourse, options)
}

func (e *Engine) showAdminCategories(ctx context.Context, user *repo.User) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	categories, err := e.store.ListCategories(ctx, false)
	if err != nil {
		return err
	}
	options := make([]MenuOption, 0, len(categories)*3+1)
	for _, c := range categories {
		toggle := "Sembunyikan: "
		if !c.Active {
			toggle = "Tampilkan: "
		}
		options = append(options,
			MenuOption{ID: CommandData(CmdEditCategory, c.ID), Title: "Ubah: " + c.Title},
			MenuOption{ID: CommandData(CmdToggleCategory, c.ID), Title: toggle + c.Title},
			MenuOption{ID: CommandData(CmdDeleteCategory, c.ID), Title: "Hapus: " + c.Title},
		)
	}
	options = append(options, MenuOption{ID: CommandData(CmdAddCategory, 0), Title: "Tambah kategori"})
	return e.sender.SendMenu(ctx, user.ExternalID, textAdminChooseCategory, options)
}

func (e *Engine) handleAdminCourse(ctx context.Context, user *repo.User, cmd Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	course, err := e.store.GetCourse(ctx, cmd.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.sender.SendText(ctx, user.ExternalID, textCourseNotFound)
	}
	if err != nil {
		return err
	}
	return e.sender.SendMenu(ctx, user.ExternalID, courseDetail(course), []MenuOption{
		{ID: CommandData(CmdEditCourse, course.ID), Title: "Ubah"},
		{ID: CommandData(CmdDeleteCourse, course.ID), Title: "Hapus"},
	})
}

// handleToggleCategory flips a category's active flag: inactive categories
// disappear from browsing but keep their courses.
func (e *Engine) handleToggleCategory(ctx context.Context, user *repo.User, cmd Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	categories, err := e.store.ListCategories(ctx, false)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.ID != cmd.ID {
			continue
		}
		if err := e.store.SetCategoryActive(ctx, c.ID, !c.Active); err != nil {
			return err
		}
		e.invalidateCatalogCache(ctx)
		if c.Active {
			return e.sender.SendText(ctx, user.ExternalID, fmt.Sprintf(textCategoryHidden, c.Title))
		}
		return e.sender.SendText(ctx, user.ExternalID, fmt.Sprintf(textCategoryShown, c.Title))
	}
	return e.sender.SendText(ctx, user.ExternalID, textInvalidCategory)
}

func (e *Engine) handleDeleteCourse(ctx context.Context, user *repo.User, cmd Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	if err := e.store.DeleteCourse(ctx, cmd.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.sender.SendText(ctx, user.ExternalID, textCourseNotFound)
		}
		return err
	}
	e.invalidateCatalogCache(ctx)
	return e.sender.SendText(ctx, user.ExternalID, textCourseDeleted)
}

func (e *Engine) handleDeleteCategory(ctx context.Context, user *repo.User, cmd Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	if err := e.store.DeleteCategory(ctx, cmd.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.sender.SendText(ctx, user.ExternalID, textCategoryNotFound)
		}
		return err
	}
	e.invalidateCatalogCache(ctx)
	return e.sender.SendText(ctx, user.ExternalID, textCategoryDeleted)
}

// -- Cache helpers --

func (e *Engine) listCategoriesCached(ctx context.Context, activeOnly bool) ([]repo.Category, error) {
	key := catalogCachePrefix + "categories:all"
	if activeOnly {
		key = catalogCachePrefix + "categories:active"
	}
	var cached []repo.Category
	if ok, err := e.cache.GetJSON(ctx, key, &cached); err != nil {
		e.logger.Warn("read category cache failed", "error", err)
	} else if ok {
		return cached, nil
	}

	categories, err := e.store.ListCategories(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetJSON(ctx, key, categories, catalogCacheTTL); err != nil {
		e.logger.Warn("set category cache failed", "error", err)
	}
	return categories, nil
}

func (e *Engine) listCoursesCached(ctx context.Context, categoryID int64) ([]repo.Course, error) {
	key := fmt.Sprintf("%scourses:%d", catalogCachePrefix, categoryID)
	var cached []repo.Course
	if ok, err := e.cache.GetJSON(ctx, key, &cached); err != nil {
		e.logger.Warn("read course cache failed", "error", err)
	} else if ok {
		return cached, nil
	}

	courses, err := e.store.ListCoursesByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetJSON(ctx, key, courses, catalogCacheTTL); err != nil {
		e.logger.Warn("set course cache failed", "error", err)
	}
	return courses, nil
}

func (e *Engine) invalidateCatalogCache(ctx context.Context) {
	if err := e.cache.DeleteByPrefix(ctx, catalogCachePrefix); err != nil {
		e.logger.Warn("invalidate catalog cache failed", "error", err)
	}
}

// -- Misc --

func (e *Engine) fail(ctx context.Context, to, op string, err error) {
	e.logger.Error("handler failed", "op", op, "error", err)
	e.metrics.Errors.WithLabelValues("convo").Inc()
	_ = e.sender.SendText(ctx, to, textGenericErr)
}

func isCancel(lower string) bool {
	switch lower {
	case "batal", "cancel", "/cancel", "❌", "❌ batal":
		return true
	}
	return false
}

func courseDetail(c *repo.Course) string {
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Sprintf(textCourseDetailNoDesc, c.Title, FormatAmount(c.Price, c.Currency))
	}
	return fmt.Sprintf(textCourseDetail, c.Title, c.Description, FormatAmount(c.Price, c.Currency))
}

// DeliveryMessage renders the access material sent to a user after a
// confirmed payment: the course link when configured, otherwise a note to
// contact an administrator.
func DeliveryMessage(c *repo.Course) string {
	if strings.TrimSpace(c.Link) != "" {
		return fmt.Sprintf(textDeliveryLink, c.Title, c.Link)
	}
	return fmt.Sprintf(textDeliveryNoLink, c.Title)
}

// PaymentUnmatchedMessage is sent when a received payment cannot be matched
// to any course.
func PaymentUnmatchedMessage() string {
	return textPaymentUnmatched
}

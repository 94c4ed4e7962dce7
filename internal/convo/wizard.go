package convo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"bot-kursus/internal/repo"
	"bot-kursus/internal/session"
)

// Session field keys accumulated across wizard steps.
const (
	fieldCategoryID  = "category_id"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldPrice       = "price"
	fieldEditCourse  = "course_id"
	fieldEditTarget  = "field"
)

// begin starts a wizard for the user, telling them when an in-progress
// operation was discarded. The new wizard always wins; in-flight input from
// the previous one is dropped.
func (e *Engine) begin(ctx context.Context, user *repo.User, wizard session.Wizard, step session.Step, prompt string) error {
	replaced := e.sessions.Begin(user.ExternalID, wizard, step)
	e.metrics.WizardSteps.WithLabelValues(string(wizard), "started").Inc()
	if replaced {
		prompt = textDiscardedPrevious + prompt
	}
	return e.sender.SendText(ctx, user.ExternalID, prompt)
}

// -- Wizard starters (routed commands) --

func (e *Engine) handleAddCategory(ctx context.Context, user *repo.User, _ Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	return e.begin(ctx, user, session.WizardAddCategory, session.StepAwaitingTitle, textPromptCategoryTitle)
}

func (e *Engine) handleAddCourse(ctx context.Context, user *repo.User, _ Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	categories, err := e.store.ListCategories(ctx, false)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		return e.sender.SendText(ctx, user.ExternalID, textCategoryEmpty+" Buat kategori dulu.")
	}
	if err := e.begin(ctx, user, session.WizardAddCourse, session.StepChoosingCategory, textPromptCourseCategory); err != nil {
		return err
	}
	options := make([]MenuOption, 0, len(categories))
	for _, c := range categories {
		options = append(options, MenuOption{ID: CommandData(CmdCategory, c.ID), Title: c.Title})
	}
	return e.sender.SendMenu(ctx, user.ExternalID, textPromptCourseCategory, options)
}

func (e *Engine) handleEditCourse(ctx context.Context, user *repo.User, cmd Command) error {
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
	if err := e.begin(ctx, user, session.WizardEditCourse, session.StepChoosingField, textPromptChooseField); err != nil {
		return err
	}
	if err := e.sessions.PutField(user.ExternalID, fieldEditCourse, strconv.FormatInt(course.ID, 10)); err != nil {
		return err
	}
	return e.sender.SendMenu(ctx, user.ExternalID, textPromptChooseField, []MenuOption{
		{ID: "editfield:title", Title: "Judul"},
		{ID: "editfield:description", Title: "Deskripsi"},
		{ID: "editfield:price", Title: "Harga"},
		{ID: "editfield:link", Title: "Tautan"},
	})
}

func (e *Engine) handleEditCategory(ctx context.Context, user *repo.User, cmd Command) error {
	if !e.requireAdmin(ctx, user) {
		return nil
	}
	categories, err := e.store.ListCategories(ctx, false)
	if err != nil {
		return err
	}
	found := false
	for _, c := range categories {
		if c.ID == cmd.ID {
			found = true
			break
		}
	}
	if !found {
		return e.sender.SendText(ctx, user.ExternalID, textInvalidCategory)
	}
	if err := e.begin(ctx, user, session.WizardEditCategory, session.StepAwaitingNewTitle, textPromptNewCategoryTitle); err != nil {
		return err
	}
	return e.sessions.PutField(user.ExternalID, fieldCategoryID, strconv.FormatInt(cmd.ID, 10))
}

// -- Step routing --

// wizardAccepts reports whether a parsed command belongs to the user's
// current wizard step (e.g. a category pick while the add-course wizard is
// choosing a category) rather than to the global routes.
func (e *Engine) wizardAccepts(userID string, cmd Command) bool {
	wizard, step, active := e.sessions.Current(userID)
	if !active {
		return false
	}
	switch {
	case wizard == session.WizardAddCourse && step == session.StepChoosingCategory && cmd.Kind == CmdCategory:
		return true
	case wizard == session.WizardEditCourse && step == session.StepChoosingField && cmd.Kind == CmdEditField:
		return true
	}
	return false
}

func (e *Engine) handleWizardCommand(ctx context.Context, user *repo.User, cmd Command) error {
	switch cmd.Kind {
	case CmdCategory:
		return e.addCourseChooseCategory(ctx, user, strconv.FormatInt(cmd.ID, 10))
	case CmdEditField:
		return e.editCourseChooseField(ctx, user, cmd.Extra)
	}
	return nil
}

// handleWizardInput feeds free text into the user's active wizard. Every
// step either advances, re-prompts the same step on invalid input, or
// completes and clears the session. Validation failures never mutate state.
func (e *Engine) handleWizardInput(ctx context.Context, user *repo.User, text string) error {
	wizard, step, active := e.sessions.Current(user.ExternalID)
	if !active {
		return e.sender.SendText(ctx, user.ExternalID, textHelp)
	}

	switch wizard {
	case session.WizardAddCategory:
		return e.stepAddCategory(ctx, user, text)
	case session.WizardAddCourse:
		return e.stepAddCourse(ctx, user, step, text)
	case session.WizardEditCourse:
		return e.stepEditCourse(ctx, user, step, text)
	case session.WizardEditCategory:
		return e.stepEditCategory(ctx, user, text)
	}

	// Unknown wizard kind would mean a corrupted session; drop it.
	e.logger.Error("session with unknown wizard", "wizard", wizard, "step", step)
	e.sessions.Clear(user.ExternalID)
	return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
}

// -- Add category --

func (e *Engine) stepAddCategory(ctx context.Context, user *repo.User, text string) error {
	title := strings.TrimSpace(text)
	if title == "" {
		return e.reprompt(ctx, user, session.WizardAddCategory, textTitleEmpty)
	}
	if _, ok := e.claimFinal(user, session.WizardAddCategory, session.StepAwaitingTitle); !ok {
		// A duplicate of the same message is already completing this wizard.
		return nil
	}
	category, err := e.store.CreateCategory(ctx, title)
	if err != nil {
		// Session stays so the admin can retry the same step.
		e.releaseFinal(user, session.WizardAddCategory, session.StepAwaitingTitle)
		e.logger.Error("create category failed", "error", err)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}
	e.complete(user, session.WizardAddCategory)
	e.invalidateCatalogCache(ctx)
	return e.sender.SendText(ctx, user.ExternalID, fmt.Sprintf(textCategoryCreated, category.Title))
}

// -- Add course --

func (e *Engine) stepAddCourse(ctx context.Context, user *repo.User, step session.Step, text string) error {
	switch step {
	case session.StepChoosingCategory:
		return e.addCourseChooseCategory(ctx, user, text)

	case session.StepAwaitingTitle:
		title := strings.TrimSpace(text)
		if title == "" {
			return e.reprompt(ctx, user, session.WizardAddCourse, textTitleEmpty)
		}
		return e.advance(ctx, user, session.WizardAddCourse, session.StepAwaitingTitle, fieldTitle, title, session.StepAwaitingDescription, textPromptCourseDescription)

	case session.StepAwaitingDescription:
		description := strings.TrimSpace(text)
		if description == "" {
			return e.reprompt(ctx, user, session.WizardAddCourse, textDescriptionEmpty)
		}
		return e.advance(ctx, user, session.WizardAddCourse, session.StepAwaitingDescription, fieldDescription, description, session.StepAwaitingPrice, textPromptCoursePrice)

	case session.StepAwaitingPrice:
		minor, err := ParsePrice(text)
		if err != nil {
			return e.reprompt(ctx, user, session.WizardAddCourse, textInvalidPrice)
		}
		return e.advance(ctx, user, session.WizardAddCourse, session.StepAwaitingPrice, fieldPrice, strconv.FormatInt(minor, 10), session.StepAwaitingLink, textPromptCourseLink)

	case session.StepAwaitingLink:
		return e.addCourseFinish(ctx, user, strings.TrimSpace(text))

	case session.StepCompleting:
		// Duplicate of the final message while completion is in flight.
		return nil
	}

	e.sessions.Clear(user.ExternalID)
	return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
}

func (e *Engine) addCourseChooseCategory(ctx context.Context, user *repo.User, text string) error {
	categories, err := e.store.ListCategories(ctx, false)
	if err != nil {
		e.logger.Error("list categories failed", "error", err)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	input := strings.TrimSpace(text)
	var chosen *repo.Category
	for i, c := range categories {
		if strconv.FormatInt(c.ID, 10) == input || strings.EqualFold(c.Title, input) {
			chosen = &categories[i]
			break
		}
	}
	if chosen == nil {
		return e.reprompt(ctx, user, session.WizardAddCourse, textInvalidCategory)
	}
	return e.advance(ctx, user, session.WizardAddCourse, session.StepChoosingCategory, fieldCategoryID, strconv.FormatInt(chosen.ID, 10), session.StepAwaitingTitle, textPromptCourseTitle)
}

func (e *Engine) addCourseFinish(ctx context.Context, user *repo.User, link string) error {
	if link == "-" {
		link = ""
	}
	fields, ok := e.claimFinal(user, session.WizardAddCourse, session.StepAwaitingLink)
	if !ok {
		return nil
	}
	categoryID, err := strconv.ParseInt(fields[fieldCategoryID], 10, 64)
	if err != nil {
		e.sessions.Clear(user.ExternalID)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}
	price, err := strconv.ParseInt(fields[fieldPrice], 10, 64)
	if err != nil {
		e.sessions.Clear(user.ExternalID)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	course, err := e.store.CreateCourse(ctx, repo.CourseInput{
		CategoryID:  categoryID,
		Title:       fields[fieldTitle],
		Description: fields[fieldDescription],
		Price:       price,
		Currency:    e.cfg.DefaultCurrency,
		Link:        link,
	})
	if err != nil {
		e.releaseFinal(user, session.WizardAddCourse, session.StepAwaitingLink)
		e.logger.Error("create course failed", "error", err)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	e.complete(user, session.WizardAddCourse)
	e.invalidateCatalogCache(ctx)
	return e.sender.SendText(ctx, user.ExternalID,
		fmt.Sprintf(textCourseCreated, course.Title, FormatAmount(course.Price, course.Currency)))
}

// -- Edit course --

var editableFields = map[string]repo.CourseField{
	"title":       repo.FieldTitle,
	"judul":       repo.FieldTitle,
	"description": repo.FieldDescription,
	"deskripsi":   repo.FieldDescription,
	"price":       repo.FieldPrice,
	"harga":       repo.FieldPrice,
	"link":        repo.FieldLink,
	"tautan":      repo.FieldLink,
}

func fieldPrompt(field repo.CourseField) string {
	switch field {
	case repo.FieldPrice:
		return textPromptCoursePrice
	default:
		return fmt.Sprintf(textPromptNewValue, field)
	}
}

// handleEditField covers a field pick arriving outside the edit-course
// wizard (stale menu after the session was cleared). Nothing to apply it to.
func (e *Engine) handleEditField(ctx context.Context, user *repo.User, _ Command) error {
	return e.sender.SendText(ctx, user.ExternalID, textHelp)
}

func (e *Engine) stepEditCourse(ctx context.Context, user *repo.User, step session.Step, text string) error {
	switch step {
	case session.StepChoosingField:
		return e.editCourseChooseField(ctx, user, text)
	case session.StepAwaitingValue:
		return e.editCourseApply(ctx, user, text)
	case session.StepCompleting:
		return nil
	}
	e.sessions.Clear(user.ExternalID)
	return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
}

func (e *Engine) editCourseChooseField(ctx context.Context, user *repo.User, text string) error {
	field, ok := editableFields[strings.ToLower(strings.TrimSpace(text))]
	if !ok {
		return e.reprompt(ctx, user, session.WizardEditCourse, textInvalidField)
	}
	return e.advance(ctx, user, session.WizardEditCourse, session.StepChoosingField, fieldEditTarget, string(field), session.StepAwaitingValue, fieldPrompt(field))
}

func (e *Engine) editCourseApply(ctx context.Context, user *repo.User, text string) error {
	fields := e.sessions.Fields(user.ExternalID)
	field := repo.CourseField(fields[fieldEditTarget])
	courseID, err := strconv.ParseInt(fields[fieldEditCourse], 10, 64)
	if err != nil || !field.Valid() {
		e.sessions.Clear(user.ExternalID)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	value := strings.TrimSpace(text)
	if field == repo.FieldPrice {
		minor, err := ParsePrice(value)
		if err != nil {
			return e.reprompt(ctx, user, session.WizardEditCourse, textInvalidPrice)
		}
		value = strconv.FormatInt(minor, 10)
	} else if value == "" {
		return e.reprompt(ctx, user, session.WizardEditCourse, textTitleEmpty)
	}

	if _, ok := e.claimFinal(user, session.WizardEditCourse, session.StepAwaitingValue); !ok {
		return nil
	}
	if err := e.store.UpdateCourseField(ctx, courseID, field, value); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.sessions.Clear(user.ExternalID)
			return e.sender.SendText(ctx, user.ExternalID, textCourseNotFound)
		}
		e.releaseFinal(user, session.WizardEditCourse, session.StepAwaitingValue)
		e.logger.Error("update course failed", "course_id", courseID, "field", field, "error", err)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	e.complete(user, session.WizardEditCourse)
	e.invalidateCatalogCache(ctx)
	return e.sender.SendText(ctx, user.ExternalID, textCourseUpdated)
}

// -- Edit category --

func (e *Engine) stepEditCategory(ctx context.Context, user *repo.User, text string) error {
	title := strings.TrimSpace(text)
	if title == "" {
		return e.reprompt(ctx, user, session.WizardEditCategory, textTitleEmpty)
	}
	fields, ok := e.claimFinal(user, session.WizardEditCategory, session.StepAwaitingNewTitle)
	if !ok {
		return nil
	}
	categoryID, err := strconv.ParseInt(fields[fieldCategoryID], 10, 64)
	if err != nil {
		e.sessions.Clear(user.ExternalID)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	if err := e.store.UpdateCategoryTitle(ctx, categoryID, title); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.sessions.Clear(user.ExternalID)
			return e.sender.SendText(ctx, user.ExternalID, textInvalidCategory)
		}
		e.releaseFinal(user, session.WizardEditCategory, session.StepAwaitingNewTitle)
		e.logger.Error("update category failed", "category_id", categoryID, "error", err)
		return e.sender.SendText(ctx, user.ExternalID, textGenericErr)
	}

	e.complete(user, session.WizardEditCategory)
	e.invalidateCatalogCache(ctx)
	return e.sender.SendText(ctx, user.ExternalID, textCategoryRenamed)
}

// -- Step helpers --

// claimFinal takes ownership of a wizard's terminal step: the session moves
// to the completing marker and the accumulated input is snapshotted under the
// same lock, so a duplicated final-step message finds the step already taken
// and backs off. Returns ok=false when the step was already claimed or the
// session is gone.
func (e *Engine) claimFinal(user *repo.User, wizard session.Wizard, from session.Step) (map[string]string, bool) {
	var fields map[string]string
	claimed := false
	_ = e.sessions.Update(user.ExternalID, func(s *session.Session) bool {
		if s.Wizard != wizard || s.Step != from {
			return true
		}
		fields = maps.Clone(s.Fields)
		s.Step = session.StepCompleting
		claimed = true
		return true
	})
	return fields, claimed
}

// releaseFinal hands the terminal step back after a storage failure so the
// user can retry with the session intact.
func (e *Engine) releaseFinal(user *repo.User, wizard session.Wizard, from session.Step) {
	_ = e.sessions.Update(user.ExternalID, func(s *session.Session) bool {
		if s.Wizard == wizard && s.Step == session.StepCompleting {
			s.Step = from
		}
		return true
	})
}

// advance stores one accumulated field and moves the session from the
// current step to the next one atomically, so two near-simultaneous copies
// of the same message cannot both advance the step.
func (e *Engine) advance(ctx context.Context, user *repo.User, wizard session.Wizard, from session.Step, key, value string, next session.Step, prompt string) error {
	advanced := false
	err := e.sessions.Update(user.ExternalID, func(s *session.Session) bool {
		if s.Wizard != wizard || s.Step != from {
			return true
		}
		s.Fields[key] = value
		s.Step = next
		advanced = true
		return true
	})
	if err != nil {
		return err
	}
	if !advanced {
		// A duplicate message already advanced this step.
		return nil
	}
	e.metrics.WizardSteps.WithLabelValues(string(wizard), "advanced").Inc()
	return e.sender.SendText(ctx, user.ExternalID, prompt)
}

// reprompt reports invalid input for the current step without advancing or
// mutating the session.
func (e *Engine) reprompt(ctx context.Context, user *repo.User, wizard session.Wizard, msg string) error {
	e.metrics.WizardSteps.WithLabelValues(string(wizard), "invalid").Inc()
	return e.sender.SendText(ctx, user.ExternalID, msg)
}

// complete clears the session after a wizard's success path.
func (e *Engine) complete(user *repo.User, wizard session.Wizard) {
	e.sessions.Clear(user.ExternalID)
	e.metrics.WizardSteps.WithLabelValues(string(wizard), "completed").Inc()
}

// Package handlers processes payment gateway webhook events: pre-purchase
// confirmations and completed payments, including the reconciliation that
// matches a payment back to a course.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"bot-kursus/internal/convo"
	"bot-kursus/internal/metrics"
	"bot-kursus/internal/pay"
	"bot-kursus/internal/repo"
)

// TextSender delivers plain text messages to a chat identity.
type TextSender interface {
	SendText(ctx context.Context, to, text string) error
}

// PreCheckoutApprover acknowledges the gateway's pre-purchase confirmation.
type PreCheckoutApprover interface {
	ApprovePreCheckout(ctx context.Context, ref string) error
}

// PaymentProcessor reconciles gateway events against the catalog and records
// purchases. Implements pay.WebhookProcessor.
type PaymentProcessor struct {
	store   repo.Store
	gateway PreCheckoutApprover
	sender  TextSender
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPaymentProcessor creates the webhook event processor.
func NewPaymentProcessor(store repo.Store, gateway PreCheckoutApprover, sender TextSender, metricRegistry *metrics.Metrics, logger *slog.Logger) *PaymentProcessor {
	return &PaymentProcessor{
		store:   store,
		gateway: gateway,
		sender:  sender,
		metrics: metricRegistry,
		logger:  logger.With("component", "payment"),
	}
}

// HandlePaymentEvent routes one webhook event. Unknown event types are
// acknowledged without action so the gateway does not retry them forever.
func (p *PaymentProcessor) HandlePaymentEvent(ctx context.Context, event pay.WebhookEvent) error {
	switch event.Type {
	case pay.EventPreCheckout:
		return p.handlePreCheckout(ctx, event)
	case pay.EventPaymentSuccess:
		return p.handlePaymentSuccess(ctx, event)
	}
	p.logger.Warn("ignoring unknown gateway event", "type", event.Type)
	return nil
}

type preCheckoutPayload struct {
	Ref string `json:"ref"`
}

func (p *PaymentProcessor) handlePreCheckout(ctx context.Context, event pay.WebhookEvent) error {
	var body preCheckoutPayload
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("parse pre-checkout event: %w", err)
	}
	if body.Ref == "" {
		return fmt.Errorf("pre-checkout event missing ref")
	}
	// Pre-checkout is always approved; the catalog has no rule that rejects
	// a purchase at this stage.
	if err := p.gateway.ApprovePreCheckout(ctx, body.Ref); err != nil {
		return fmt.Errorf("approve pre-checkout %s: %w", body.Ref, err)
	}
	p.logger.Info("pre-checkout approved", "ref", body.Ref)
	return nil
}

// successPayload is the completed-payment event body. Amount is decoded
// tolerantly since the gateway emits both numbers and numeric strings.
type successPayload struct {
	Ref      string      `json:"ref"`
	Customer string      `json:"customer"`
	Payload  string      `json:"payload"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

func (p *PaymentProcessor) handlePaymentSuccess(ctx context.Context, event pay.WebhookEvent) error {
	var body successPayload
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		return fmt.Errorf("parse payment event: %w", err)
	}
	if body.Customer == "" {
		return fmt.Errorf("payment event missing customer")
	}

	user, err := p.store.EnsureUser(ctx, body.Customer, false)
	if err != nil {
		return fmt.Errorf("ensure payer: %w", err)
	}

	course, err := p.resolveCourse(ctx, body)
	if err != nil {
		return err
	}
	if course == nil {
		p.logger.Warn("payment could not be matched to a course",
			"ref", body.Ref, "customer", body.Customer, "payload", body.Payload,
			"amount", body.Amount.String(), "currency", body.Currency)
		p.metrics.Purchases.WithLabelValues("unresolved").Inc()
		return p.sender.SendText(ctx, user.ExternalID, convo.PaymentUnmatchedMessage())
	}

	recorded, err := p.store.RecordPurchase(ctx, user.ID, course.ID, event.ReceivedAt, body.Payload)
	if err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	if !recorded {
		// Gateway retry or double webhook; the first delivery already went out.
		p.logger.Info("duplicate payment ignored", "ref", body.Ref, "user_id", user.ID, "course_id", course.ID)
		p.metrics.Purchases.WithLabelValues("duplicate").Inc()
		return nil
	}

	p.logger.Info("purchase recorded", "ref", body.Ref, "user_id", user.ID, "course_id", course.ID)
	p.metrics.Purchases.WithLabelValues("recorded").Inc()
	return p.sender.SendText(ctx, user.ExternalID, convo.DeliveryMessage(course))
}

// resolveCourse matches a payment to a course: first by the course id carried
// in the invoice payload, then by exact price and currency. A nil course with
// a nil error means the payment is unresolvable and must be kept as unmatched.
func (p *PaymentProcessor) resolveCourse(ctx context.Context, body successPayload) (*repo.Course, error) {
	if id, ok := pay.ParsePayload(body.Payload); ok {
		course, err := p.store.GetCourse(ctx, id)
		if err == nil {
			return course, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load course %d: %w", id, err)
		}
		p.logger.Warn("payload references deleted course, falling back to price match", "course_id", id)
	}

	amount, err := parseAmount(body.Amount)
	if err != nil || amount <= 0 {
		return nil, nil
	}
	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if currency == "" {
		return nil, nil
	}

	course, err := p.store.FindCourseByPrice(ctx, amount, currency)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match course by price: %w", err)
	}
	return course, nil
}

func parseAmount(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	return strconv.ParseInt(s, 10, 64)
}

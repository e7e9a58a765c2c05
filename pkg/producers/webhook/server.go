// Package webhook provides the HTTP ingress producer: it maps inbound
// requests on the webhook prefix to registered bindings and hands them to
// the dispatcher synchronously.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/moogar0880/problems"
	"github.com/relayd/relay/pkg/dispatcher"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/models"
)

// PathPrefix is the fixed prefix under which all webhook bindings are
// served.
const PathPrefix = "/webhook"

// bindingSet is the immutable snapshot of registered path+method bindings.
// It is replaced wholesale on every reload so a request never observes a
// half-updated set.
type bindingSet struct {
	byKey map[string]*models.IncomingWebhook
}

func bindingKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func (s *bindingSet) resolve(method, path string) (*models.IncomingWebhook, bool) {
	webhook, ok := s.byKey[bindingKey(method, path)]

	return webhook, ok
}

// Server is the fiber app answering webhook ingress traffic.
type Server struct {
	app      *fiber.App
	dispatch *dispatcher.Dispatcher
	bindings atomic.Pointer[bindingSet]
	logger   *slog.Logger
	port     int
}

func NewServer(dispatch *dispatcher.Dispatcher, port int, log *slog.Logger) *Server {
	s := &Server{
		dispatch: dispatch,
		logger:   log.With("module", "webhook_server"),
		port:     port,
	}

	s.bindings.Store(&bindingSet{byKey: map[string]*models.IncomingWebhook{}})

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.All(PathPrefix+"/*", s.handle)

	s.app = app

	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Swap atomically replaces the binding set.
func (s *Server) Swap(webhooks []*models.IncomingWebhook) {
	byKey := make(map[string]*models.IncomingWebhook, len(webhooks))

	for _, webhook := range webhooks {
		if webhook.Validate() != nil {
			s.logger.Warn("Skipping ambiguous webhook binding", "webhook_id", webhook.ID)

			continue
		}

		byKey[bindingKey(webhook.Method, webhook.Path)] = webhook
	}

	s.bindings.Store(&bindingSet{byKey: byKey})
	s.logger.Info("Webhook bindings replaced", "count", len(byKey))
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handle(c fiber.Ctx) error {
	path := strings.TrimPrefix(c.Path(), PathPrefix)

	webhook, ok := s.bindings.Load().resolve(c.Method(), path)
	if !ok {
		problem := problems.NewStatusProblem(fiber.StatusNotFound).
			WithInstance(c.Path()).
			WithType("webhook_not_found").
			WithDetail("no webhook is registered for this path and method")

		return c.Status(fiber.StatusNotFound).JSON(problem)
	}

	req := normalizeRequest(c, path)

	outcome, err := s.dispatch.HandleWebhook(c.Context(), webhook, req)
	if err != nil {
		s.logger.Error("Webhook dispatch failed", "webhook_id", webhook.ID, "error", err)

		problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("dispatch_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}

	if outcome.Handshake != nil {
		return c.JSON(outcome.Handshake)
	}

	if outcome.QuotaExceeded {
		return c.Status(fiber.StatusPaymentRequired).JSON(outcome)
	}

	return c.JSON(outcome)
}

// normalizeRequest builds the matcher-facing request: body parsed as JSON or
// form by content type, defaulting to an empty object on parse failure;
// headers and query parameters passed through verbatim.
func normalizeRequest(c fiber.Ctx, path string) *matchers.WebhookRequest {
	raw := c.Body()
	body := parseBody(raw, c.Get(fiber.HeaderContentType))

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	query := make(map[string]string)
	for key, value := range c.Queries() {
		query[key] = value
	}

	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	return &matchers.WebhookRequest{
		Method:  c.Method(),
		Path:    path,
		Headers: headers,
		Query:   query,
		Body:    body,
		RawBody: rawCopy,
	}
}

func parseBody(raw []byte, contentType string) map[string]any {
	body := map[string]any{}

	if len(raw) == 0 {
		return body
	}

	if strings.Contains(contentType, fiber.MIMEApplicationForm) {
		return parseForm(string(raw))
	}

	err := json.Unmarshal(raw, &body)
	if err != nil {
		return map[string]any{}
	}

	return body
}

func parseForm(raw string) map[string]any {
	body := map[string]any{}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return body
	}

	for key, value := range values {
		if len(value) == 1 {
			body[key] = value[0]
		} else {
			body[key] = value
		}
	}

	return body
}

package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cardauth/internal/auth"
	apierrors "cardauth/internal/errors"
	"cardauth/internal/infrastructure"
)

var validate = validator.New()

// AuthHandler handles auth-related HTTP requests. Logging is per request
// through infrastructure.LoggerWithContext, so every line carries the
// trace ID set by the middleware chain.
type AuthHandler struct {
	controller *auth.Controller
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(controller *auth.Controller) *AuthHandler {
	return &AuthHandler{controller: controller}
}

// log returns the request-scoped handler logger
func (h *AuthHandler) log(ctx context.Context) *slog.Logger {
	return infrastructure.LoggerWithContext(ctx).With(slog.String("handler", "auth"))
}

// LoginRequest is the login payload from the host UI
type LoginRequest struct {
	CardCode string `json:"cardCode" validate:"required,min=4"`
	UserID   string `json:"userId" validate:"omitempty,max=128"`
}

// Bind implements render.Binder
func (l *LoginRequest) Bind(r *http.Request) error {
	l.CardCode = strings.TrimSpace(l.CardCode)
	l.UserID = strings.TrimSpace(l.UserID)
	return validate.Struct(l)
}

// MachineCodeResponse carries the device fingerprint
type MachineCodeResponse struct {
	MachineCode string    `json:"machineCode"`
	Timestamp   time.Time `json:"timestamp"`
}

// Routes returns a chi router for auth endpoints
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Login waits on the remote verifier; everything else is local
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Get("/machine-code", h.GetMachineCode)

	return r
}

// GetStatus handles GET /api/auth/status
func (h *AuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("auth-handler")

	ctx, span := tracer.Start(ctx, "auth_handler.get_status",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/status"),
		))
	defer span.End()

	status := h.controller.Status(ctx)

	span.SetAttributes(
		attribute.String("auth.state", string(status.State)),
		attribute.Bool("auth.logged_in", status.LoggedIn),
		attribute.Bool("auth.expired", status.Expired),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, status)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("auth-handler")

	ctx, span := tracer.Start(ctx, "auth_handler.login",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/login"),
		))
	defer span.End()

	req := &LoginRequest{}
	if err := render.Bind(r, req); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.log(ctx).WarnContext(ctx, "invalid login request",
			slog.String("error", err.Error()))
		render.Render(w, r, bindError(err))
		return
	}

	span.SetAttributes(
		attribute.String("auth.card_code_masked", maskCardCode(req.CardCode)),
		attribute.Bool("auth.has_user_id", req.UserID != ""),
	)

	if err := h.controller.Login(ctx, req.CardCode, req.UserID); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", classifyAuthError(err)))
		h.log(ctx).WarnContext(ctx, "login failed",
			slog.String("card_code", maskCardCode(req.CardCode)),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.MapAuthError(err))
		return
	}

	h.log(ctx).InfoContext(ctx, "login succeeded",
		slog.String("card_code", maskCardCode(req.CardCode)))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.controller.Status(ctx))
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("auth-handler")

	ctx, span := tracer.Start(ctx, "auth_handler.logout",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/logout"),
		))
	defer span.End()

	if err := h.controller.Logout(ctx); err != nil {
		span.RecordError(err)
		h.log(ctx).ErrorContext(ctx, "logout failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.MapAuthError(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.controller.Status(ctx))
}

// GetMachineCode handles GET /api/auth/machine-code
func (h *AuthHandler) GetMachineCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("auth-handler")

	ctx, span := tracer.Start(ctx, "auth_handler.get_machine_code",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/machine-code"),
		))
	defer span.End()

	status := h.controller.Status(ctx)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MachineCodeResponse{
		MachineCode: status.MachineCode,
		Timestamp:   time.Now(),
	})
}

// bindError maps a bind failure to the API error shape: validator field
// errors pin the offending field, anything else reads as a malformed
// request.
func bindError(err error) *apierrors.APIError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apierrors.ErrValidation(fe.Field(), "failed "+fe.Tag()+" validation")
	}
	return apierrors.InvalidRequestWithError(err)
}

// maskCardCode masks a card code for logs and spans
func maskCardCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:2] + strings.Repeat("*", len(code)-4) + code[len(code)-2:]
}

func classifyAuthError(err error) string {
	switch {
	case apierrors.IsRejected(err):
		return "verification_rejected"
	case apierrors.IsTransport(err):
		return "network_error"
	default:
		return "internal"
	}
}

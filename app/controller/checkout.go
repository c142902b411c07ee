package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/checkout"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/feedback"
	"github.com/vibast-solutions/ms-go-checkout/app/orchestrator"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
)

type CheckoutController struct {
	manager *checkout.Manager
	logger  logrus.FieldLogger
}

func NewCheckoutController(manager *checkout.Manager, logger logrus.FieldLogger) *CheckoutController {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("module", "checkout-controller")
	}
	return &CheckoutController{manager: manager, logger: logger}
}

func (c *CheckoutController) Register(e *echo.Echo) {
	e.GET("/health", c.Health)

	group := e.Group("/checkout/:session")
	group.POST("", c.Open)
	group.POST("/method", c.SelectMethod)
	group.POST("/currency", c.SelectCurrency)
	group.POST("/contact", c.SetContact)
	group.POST("/terms", c.SetTerms)
	group.POST("/submit", c.Submit)
	group.GET("/status", c.Status)
	group.POST("/capture", c.Capture)
	group.POST("/reset", c.Reset)
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type openRequest struct {
	OrderID    string          `json:"order_id"`
	BaseAmount decimal.Decimal `json:"base_amount"`
}

type methodRequest struct {
	Method string `json:"method"`
}

type currencyRequest struct {
	Currency string `json:"currency"`
}

type contactRequest struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type termsRequest struct {
	Accepted bool `json:"accepted"`
}

type captureRequest struct {
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"`
}

type submitResponse struct {
	AttemptID   string `json:"attempt_id"`
	Reference   string `json:"reference,omitempty"`
	Phase       string `json:"phase"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type statusResponse struct {
	Phase       string            `json:"phase"`
	Reference   string            `json:"reference,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	Form        checkout.View     `json:"form"`
	Feedback    feedback.Snapshot `json:"feedback"`
}

func (c *CheckoutController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &healthResponse{Status: "ok"})
}

func (c *CheckoutController) Open(ctx echo.Context) error {
	var req openRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return c.writeError(ctx, http.StatusBadRequest, "order_id is required")
	}
	if req.BaseAmount.LessThanOrEqual(decimal.Zero) {
		return c.writeError(ctx, http.StatusBadRequest, "base_amount must be positive")
	}

	session, err := c.manager.Open(ctx.Param("session"), req.OrderID, req.BaseAmount)
	if err != nil {
		c.logger.WithError(err).Error("Open session failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) SelectMethod(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	var req methodRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := session.SelectMethod(entity.Method(req.Method)); err != nil {
		return c.writeCheckoutError(ctx, err, "Select method failed")
	}
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) SelectCurrency(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	var req currencyRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := session.SelectCurrency(req.Currency); err != nil {
		return c.writeCheckoutError(ctx, err, "Select currency failed")
	}
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) SetContact(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	var req contactRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := session.SetContact(req.Phone, req.Email); err != nil {
		return c.writeCheckoutError(ctx, err, "Set contact failed")
	}
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) SetTerms(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	var req termsRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	session.SetTerms(req.Accepted)
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) Submit(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}

	attempt, err := session.Submit(ctx.Request().Context())
	if err != nil {
		return c.writeCheckoutError(ctx, err, "Submit failed")
	}

	status := session.Status()
	return ctx.JSON(http.StatusAccepted, &submitResponse{
		AttemptID:   attempt.ID,
		Reference:   attempt.ProviderReference,
		Phase:       string(attempt.Phase),
		RedirectURL: status.RedirectURL,
	})
}

func (c *CheckoutController) Status(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) Capture(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	var req captureRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	outcome, ok := captureOutcome(req.Outcome)
	if !ok {
		return c.writeError(ctx, http.StatusBadRequest, "outcome must be approved, cancelled or error")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return c.writeError(ctx, http.StatusBadRequest, "reference is required")
	}

	if err := session.Capture(req.Reference, outcome); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoAttempt), errors.Is(err, orchestrator.ErrStaleReference):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		default:
			c.logger.WithError(err).Error("Capture failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}
	return ctx.JSON(http.StatusOK, c.statusOf(session))
}

func (c *CheckoutController) Reset(ctx echo.Context) error {
	session, err := c.session(ctx)
	if session == nil {
		return err
	}
	session.Reset()
	return ctx.JSON(http.StatusOK, &messageResponse{Message: "Checkout reset"})
}

func captureOutcome(raw string) (provider.PollOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return provider.PollSucceeded, true
	case "cancelled":
		return provider.PollCancelled, true
	case "error":
		return provider.PollFailed, true
	default:
		return "", false
	}
}

func (c *CheckoutController) session(ctx echo.Context) (*checkout.Session, error) {
	session, err := c.manager.Get(ctx.Param("session"))
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			return nil, c.writeError(ctx, http.StatusNotFound, "checkout session not found")
		}
		c.logger.WithError(err).Error("Load session failed")
		return nil, c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
	return session, nil
}

func (c *CheckoutController) statusOf(session *checkout.Session) *statusResponse {
	status := session.Status()
	out := &statusResponse{
		Phase:       string(status.Phase),
		Reference:   status.Reference,
		RedirectURL: status.RedirectURL,
		Form:        session.View(),
		Feedback:    session.Feedback(),
	}
	if status.Err != nil {
		out.Error = status.Err.Error()
	}
	return out
}

func (c *CheckoutController) writeCheckoutError(ctx echo.Context, err error, logMessage string) error {
	switch {
	case errors.Is(err, checkout.ErrValidation):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrMethodNotSupported):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrAttemptInFlight):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, provider.ErrNotEligible):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrProviderRejected),
		errors.Is(err, orchestrator.ErrNetworkTimeout),
		errors.Is(err, orchestrator.ErrFinalizationRejected),
		errors.Is(err, orchestrator.ErrNetwork):
		return c.writeError(ctx, http.StatusBadGateway, err.Error())
	default:
		c.logger.WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *CheckoutController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &errorResponse{Error: message})
}

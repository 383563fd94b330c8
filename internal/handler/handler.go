package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"linkpipe/internal/models"
	"linkpipe/internal/prometheus"
	"linkpipe/internal/service"
)

const maxBodySize = 2048

// LinkService is the part of service.Service the HTTP API needs.
//
//go:generate mockery --name=LinkService --inpackage --testonly --filename=mock_link_service_test.go
type LinkService interface {
	ShortenURL(ctx context.Context, req service.ShortenRequest) (models.Link, bool, error)
	Resolve(ctx context.Context, shortCode string) (string, error)
	Stats(ctx context.Context, shortCode string) (models.Link, error)
}

type Handler struct {
	service LinkService
	metrics *initprometheus.PrometheusMetrics
	logger  *logrus.Logger
	baseURL string
}

type ShortenRequest struct {
	URL         string `json:"url"`
	MaxClicks   int64  `json:"max_clicks"`
	CustomAlias string `json:"custom_alias"`
}

type ShortenResponse struct {
	OriginalURL  string `json:"original_url"`
	ShortCode    string `json:"short_code"`
	ShortenedURL string `json:"shortened_url"`
}

type StatsResponse struct {
	ShortCode   string `json:"short_code"`
	OriginalURL string `json:"original_url"`
	Clicks      int64  `json:"clicks"`
	MaxClicks   int64  `json:"max_clicks"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func NewHandler(service LinkService, metrics *initprometheus.PrometheusMetrics, logger *logrus.Logger, baseURL string) *Handler {
	return &Handler{
		service: service,
		metrics: metrics,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (h *Handler) InitRoutes(app *fiber.App) {
	app.Get("/metrics", h.metrics.Handler())

	api := app.Group("/api/v1")
	api.Post("/shorten", h.createShortLink)
	api.Get("/stats/:code", h.stats)

	app.Get("/r/:code", h.redirect)
}

func (h *Handler) restrictBodySize(c *fiber.Ctx) error {
	bodySize := len(c.Request().Body())
	if bodySize > maxBodySize {
		h.logger.WithFields(logrus.Fields{
			"component":  "handler",
			"body_size":  bodySize,
			"client_ip":  c.IP(),
			"request_id": c.Get("X-Request-ID"),
		}).Warn("request body too large")
		return fmt.Errorf("request body (%d bytes) exceeds the limit (%d bytes)", bodySize, maxBodySize)
	}
	return nil
}

func (h *Handler) parseShortenRequest(c *fiber.Ctx) (ShortenRequest, error) {
	var req ShortenRequest

	if err := h.restrictBodySize(c); err != nil {
		h.metrics.CreateShortLink("error", "body_size")
		return req, err
	}

	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		h.metrics.CreateShortLink("error", "content_type")
		return req, errors.New("content type must be application/json")
	}

	if err := c.BodyParser(&req); err != nil {
		h.metrics.CreateShortLink("error", "json_parse")
		return req, fmt.Errorf("invalid JSON body: %v", err)
	}

	if req.URL == "" {
		h.metrics.CreateShortLink("error", "url_missing")
		return req, errors.New("url is required")
	}

	return req, nil
}

func (h *Handler) createShortLink(c *fiber.Ctx) error {
	req, err := h.parseShortenRequest(c)
	if err != nil {
		return respondError(c, true, h.logger, http.StatusBadRequest, err.Error())
	}

	link, created, err := h.service.ShortenURL(c.UserContext(), service.ShortenRequest{
		URL:         req.URL,
		MaxClicks:   req.MaxClicks,
		CustomAlias: req.CustomAlias,
	})
	switch {
	case errors.Is(err, service.ErrInvalidURL), errors.Is(err, service.ErrInvalidLimit), errors.Is(err, service.ErrInvalidAlias):
		h.metrics.CreateShortLink("error", "validation")
		return respondError(c, true, h.logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAliasTaken):
		h.metrics.CreateShortLink("error", "alias_taken")
		return respondError(c, true, h.logger, http.StatusConflict, err.Error())
	case err != nil:
		h.metrics.CreateShortLink("error", "internal")
		return respondError(c, false, h.logger, http.StatusInternalServerError, err.Error())
	}

	status, reason := http.StatusOK, "existing"
	if created {
		status, reason = http.StatusCreated, "created"
	}
	h.metrics.CreateShortLink("success", reason)

	return c.Status(status).JSON(ShortenResponse{
		OriginalURL:  link.OriginalURL,
		ShortCode:    link.ShortCode,
		ShortenedURL: fmt.Sprintf("%s/r/%s", h.baseURL, link.ShortCode),
	})
}

func (h *Handler) redirect(c *fiber.Ctx) error {
	code := c.Params("code")

	originalURL, err := h.service.Resolve(c.UserContext(), code)
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.metrics.Redirect("not_found", "none")
		return respondError(c, true, h.logger, http.StatusNotFound, "short link not found")
	case errors.Is(err, service.ErrExpired):
		h.metrics.Redirect("expired", "click_limit")
		return respondError(c, true, h.logger, http.StatusGone, "short link expired")
	case err != nil:
		h.metrics.Redirect("error", "db_query")
		return respondError(c, false, h.logger, http.StatusInternalServerError, fmt.Sprintf("resolve %q: %v", code, err))
	}

	h.metrics.Redirect("success", "none")
	return c.Redirect(originalURL, http.StatusTemporaryRedirect)
}

func (h *Handler) stats(c *fiber.Ctx) error {
	code := c.Params("code")

	link, err := h.service.Stats(c.UserContext(), code)
	if errors.Is(err, service.ErrNotFound) {
		return respondError(c, true, h.logger, http.StatusNotFound, "short link not found")
	}
	if err != nil {
		return respondError(c, false, h.logger, http.StatusInternalServerError, fmt.Sprintf("stats %q: %v", code, err))
	}

	return c.JSON(StatsResponse{
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		Clicks:      link.Clicks,
		MaxClicks:   link.MaxClicks,
		Status:      link.Status(),
		CreatedAt:   link.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func respondError(c *fiber.Ctx, show bool, logger *logrus.Logger, status int, msg string) error {
	entry := logger.WithFields(logrus.Fields{
		"component": "handler",
		"status":    status,
		"path":      c.Path(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}

	if show {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
}

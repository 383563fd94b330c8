package service

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"linkpipe/internal/message"
	"linkpipe/internal/models"
)

const (
	cacheTTL        = 10 * time.Minute
	keyAttempts     = 3
	shortCodeLength = 6
)

var (
	ErrInvalidURL   = errors.New("invalid url")
	ErrInvalidLimit = errors.New("max_clicks must not be negative")
	ErrInvalidAlias = errors.New("custom alias must be 3-32 letters, digits, '-' or '_'")
	ErrAliasTaken   = errors.New("custom alias already in use")
	ErrNotFound     = errors.New("short link not found")
	ErrExpired      = errors.New("short link expired")
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// Service - link shortening, redirect gating and stats
type Service struct {
	Repo   LinkRepo
	Cache  LinkCache
	Clicks ClickPublisher
	Alerts AlertPublisher
}

func NewLinkService(repo LinkRepo, cache LinkCache, clicks ClickPublisher, alerts AlertPublisher) *Service {
	return &Service{Repo: repo, Cache: cache, Clicks: clicks, Alerts: alerts}
}

type ShortenRequest struct {
	URL         string
	MaxClicks   int64
	CustomAlias string
}

// ShortenURL returns the link for req.URL, creating it when needed. created
// is false when an existing link was reused.
func (s *Service) ShortenURL(ctx context.Context, req ShortenRequest) (link models.Link, created bool, err error) {
	if err := ValidateURL(req.URL); err != nil {
		return models.Link{}, false, err
	}
	if req.MaxClicks < 0 {
		return models.Link{}, false, ErrInvalidLimit
	}

	if req.CustomAlias != "" {
		return s.shortenWithAlias(ctx, req)
	}

	if cached, err := s.Cache.GetShortLink(ctx, req.URL); err != nil {
		return models.Link{}, false, fmt.Errorf("read cache: %w", err)
	} else if cached != "" {
		return models.Link{ShortCode: cached, OriginalURL: req.URL}, false, nil
	}

	existing, err := s.Repo.FindByOriginalURL(ctx, req.URL)
	if err != nil {
		return models.Link{}, false, fmt.Errorf("look up url: %w", err)
	}
	if existing != "" {
		if err := s.Cache.SetShortLink(ctx, req.URL, existing, cacheTTL); err != nil {
			return models.Link{}, false, fmt.Errorf("write cache: %w", err)
		}
		return models.Link{ShortCode: existing, OriginalURL: req.URL}, false, nil
	}

	for i := 0; i < keyAttempts; i++ {
		input := req.URL
		if i > 0 {
			input = fmt.Sprintf("%s_%d", req.URL, i)
		}
		code := GenerateShortLink(input)

		free, err := s.codeFree(ctx, code)
		if err != nil {
			return models.Link{}, false, err
		}
		if free {
			link, err := s.insert(ctx, code, req)
			return link, err == nil, err
		}
	}

	return models.Link{}, false, fmt.Errorf("no unique short code after %d attempts", keyAttempts)
}

func (s *Service) shortenWithAlias(ctx context.Context, req ShortenRequest) (models.Link, bool, error) {
	if !aliasPattern.MatchString(req.CustomAlias) {
		return models.Link{}, false, ErrInvalidAlias
	}

	free, err := s.codeFree(ctx, req.CustomAlias)
	if err != nil {
		return models.Link{}, false, err
	}
	if !free {
		return models.Link{}, false, ErrAliasTaken
	}

	link, err := s.insert(ctx, req.CustomAlias, req)
	if errors.Is(err, models.ErrDuplicateCode) {
		return models.Link{}, false, ErrAliasTaken
	}
	return link, err == nil, err
}

func (s *Service) codeFree(ctx context.Context, code string) (bool, error) {
	_, err := s.Repo.FindByShortCode(ctx, code)
	switch {
	case errors.Is(err, models.ErrLinkNotFound):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("check short code: %w", err)
	default:
		return false, nil
	}
}

func (s *Service) insert(ctx context.Context, code string, req ShortenRequest) (models.Link, error) {
	link := models.Link{
		ShortCode:   code,
		OriginalURL: req.URL,
		MaxClicks:   req.MaxClicks,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Repo.Insert(ctx, link); err != nil {
		return models.Link{}, fmt.Errorf("insert link: %w", err)
	}
	// Only generated codes dedupe by URL; an alias is an extra name.
	if req.CustomAlias == "" {
		if err := s.Cache.SetShortLink(ctx, req.URL, code, cacheTTL); err != nil {
			return models.Link{}, fmt.Errorf("write cache: %w", err)
		}
	}

	s.Alerts.Publish(ctx, "URL created",
		fmt.Sprintf("Short code `%s` now points to %s", code, req.URL), message.LevelInfo)
	return link, nil
}

// Resolve returns the redirect target for shortCode and emits a click event.
// A link whose click limit is used up yields ErrExpired and a WARNING alert.
func (s *Service) Resolve(ctx context.Context, shortCode string) (string, error) {
	link, err := s.Repo.FindByShortCode(ctx, shortCode)
	if errors.Is(err, models.ErrLinkNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("look up short code: %w", err)
	}

	if link.Expired() {
		s.Alerts.Publish(ctx, "URL expired",
			fmt.Sprintf("Short code `%s` reached its limit of %d clicks", shortCode, link.MaxClicks), message.LevelWarning)
		return "", ErrExpired
	}

	// The redirect does not depend on the event being accepted.
	s.Clicks.Publish(ctx, shortCode)
	return link.OriginalURL, nil
}

func (s *Service) Stats(ctx context.Context, shortCode string) (models.Link, error) {
	link, err := s.Repo.FindByShortCode(ctx, shortCode)
	if errors.Is(err, models.ErrLinkNotFound) {
		return models.Link{}, ErrNotFound
	}
	if err != nil {
		return models.Link{}, fmt.Errorf("look up short code: %w", err)
	}
	return link, nil
}

// GenerateShortLink - first six hex digits of the URL's md5
func GenerateShortLink(originalURL string) string {
	hash := md5.Sum([]byte(originalURL))
	return fmt.Sprintf("%x", hash)[:shortCodeLength]
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(originalURL string) error {
	if !strings.HasPrefix(originalURL, "http://") && !strings.HasPrefix(originalURL, "https://") {
		return fmt.Errorf("%w: must start with http:// or https://", ErrInvalidURL)
	}
	parsedURL, err := url.Parse(originalURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("%w: malformed", ErrInvalidURL)
	}
	return nil
}

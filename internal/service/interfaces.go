package service

import (
	"context"
	"time"

	"linkpipe/internal/message"
	"linkpipe/internal/models"
)

// LinkRepo - link storage
//
//go:generate mockery --name=LinkRepo --output=../mocks --filename=link_repo.go
type LinkRepo interface {
	// FindByOriginalURL returns "" when the URL was never shortened.
	FindByOriginalURL(ctx context.Context, originalURL string) (string, error)
	// FindByShortCode returns models.ErrLinkNotFound for unknown codes.
	FindByShortCode(ctx context.Context, shortCode string) (models.Link, error)
	Insert(ctx context.Context, link models.Link) error
}

// LinkCache - original URL to short code lookups
//
//go:generate mockery --name=LinkCache --output=../mocks --filename=link_cache.go
type LinkCache interface {
	GetShortLink(ctx context.Context, originalURL string) (string, error)
	SetShortLink(ctx context.Context, originalURL, shortLink string, ttl time.Duration) error
}

//go:generate mockery --name=ClickPublisher --output=../mocks --filename=click_publisher.go
type ClickPublisher interface {
	Publish(ctx context.Context, shortCode string) bool
}

//go:generate mockery --name=AlertPublisher --output=../mocks --filename=alert_publisher.go
type AlertPublisher interface {
	Publish(ctx context.Context, title, msg string, level message.Level)
}

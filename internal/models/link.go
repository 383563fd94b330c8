package models

import (
	"errors"
	"time"
)

// ErrLinkNotFound is returned by stores when no link has the requested short code.
var ErrLinkNotFound = errors.New("link not found")

// ErrDuplicateCode is returned by stores when a short code is already taken.
var ErrDuplicateCode = errors.New("short code already exists")

type Link struct {
	ID          int64     `json:"-"`
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	Clicks      int64     `json:"clicks"`
	MaxClicks   int64     `json:"max_clicks"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the link has used up its click limit. A limit of
// zero means unlimited.
func (l Link) Expired() bool {
	return l.MaxClicks > 0 && l.Clicks >= l.MaxClicks
}

func (l Link) Status() string {
	if l.Expired() {
		return "Expired"
	}
	return "Active"
}

package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"linkpipe/internal/message"
	"linkpipe/internal/mocks"
	"linkpipe/internal/models"
)

type serviceMocks struct {
	repo   *mocks.LinkRepo
	cache  *mocks.LinkCache
	clicks *mocks.ClickPublisher
	alerts *mocks.AlertPublisher
}

func TestNewLinkService(t *testing.T) {
	_, m, svc := getMocksWithService(t)

	assert.NotNil(t, svc)
	assert.Equal(t, m.repo, svc.Repo)
	assert.Equal(t, m.cache, svc.Cache)
}

// Cache hit short-circuits the repository.
func TestShortenURL_ReturnsFromCache(t *testing.T) {
	originalURL := "https://example.com"

	ctx, m, svc := getMocksWithService(t)
	m.cache.On("GetShortLink", ctx, originalURL).Return("cached123", nil)

	link, created, err := svc.ShortenURL(ctx, ShortenRequest{URL: originalURL})

	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "cached123", link.ShortCode)
	m.repo.AssertNotCalled(t, "FindByOriginalURL")
	m.alerts.AssertNotCalled(t, "Publish")
}

func linkWith(code, url string, maxClicks int64) interface{} {
	return mock.MatchedBy(func(l models.Link) bool {
		return l.ShortCode == code && l.OriginalURL == url && l.MaxClicks == maxClicks && !l.CreatedAt.IsZero()
	})
}

func TestService_ShortenURL(t *testing.T) {
	type mockBehavior func(ctx context.Context, m serviceMocks)

	tests := []struct {
		name         string
		req          ShortenRequest
		mockBehavior mockBehavior
		expectedCode string
		created      bool
		expectError  error
		anyError     bool
	}{
		{
			name: "valid - found in DB",
			req:  ShortenRequest{URL: "https://db.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.cache.On("GetShortLink", ctx, "https://db.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://db.com").Return("db123", nil)
				m.cache.On("SetShortLink", ctx, "https://db.com", "db123", cacheTTL).Return(nil)
			},
			expectedCode: "db123",
		},
		{
			name: "valid - not found, generate new",
			req:  ShortenRequest{URL: "https://new.com", MaxClicks: 5},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				code := GenerateShortLink("https://new.com")
				m.cache.On("GetShortLink", ctx, "https://new.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://new.com").Return("", nil)
				m.repo.On("FindByShortCode", ctx, code).Return(models.Link{}, models.ErrLinkNotFound)
				m.repo.On("Insert", ctx, linkWith(code, "https://new.com", 5)).Return(nil)
				m.cache.On("SetShortLink", ctx, "https://new.com", code, cacheTTL).Return(nil)
				m.alerts.On("Publish", ctx, "URL created", mock.AnythingOfType("string"), message.LevelInfo).Return()
			},
			expectedCode: GenerateShortLink("https://new.com"),
			created:      true,
		},
		{
			name: "second key after one collision",
			req:  ShortenRequest{URL: "https://once.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				code := GenerateShortLink("https://once.com_1")
				m.cache.On("GetShortLink", ctx, "https://once.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://once.com").Return("", nil)
				m.repo.On("FindByShortCode", ctx, GenerateShortLink("https://once.com")).Return(models.Link{ShortCode: "taken"}, nil)
				m.repo.On("FindByShortCode", ctx, code).Return(models.Link{}, models.ErrLinkNotFound)
				m.repo.On("Insert", ctx, linkWith(code, "https://once.com", 0)).Return(nil)
				m.cache.On("SetShortLink", ctx, "https://once.com", code, cacheTTL).Return(nil)
				m.alerts.On("Publish", ctx, "URL created", mock.Anything, message.LevelInfo).Return()
			},
			expectedCode: GenerateShortLink("https://once.com_1"),
			created:      true,
		},
		{
			name:         "invalid URL",
			req:          ShortenRequest{URL: "htp:/invalid"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {},
			expectError:  ErrInvalidURL,
		},
		{
			name:         "negative limit",
			req:          ShortenRequest{URL: "https://example.com", MaxClicks: -1},
			mockBehavior: func(ctx context.Context, m serviceMocks) {},
			expectError:  ErrInvalidLimit,
		},
		{
			name: "cache error",
			req:  ShortenRequest{URL: "https://error.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.cache.On("GetShortLink", ctx, "https://error.com").Return("", fmt.Errorf("cache down"))
			},
			anyError: true,
		},
		{
			name: "repo.FindByOriginalURL returns error",
			req:  ShortenRequest{URL: "https://errordb.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.cache.On("GetShortLink", ctx, "https://errordb.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://errordb.com").Return("", fmt.Errorf("db error"))
			},
			anyError: true,
		},
		{
			name: "cache.SetShortLink returns error",
			req:  ShortenRequest{URL: "https://setcache.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.cache.On("GetShortLink", ctx, "https://setcache.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://setcache.com").Return("short-set", nil)
				m.cache.On("SetShortLink", ctx, "https://setcache.com", "short-set", cacheTTL).Return(fmt.Errorf("cache write error"))
			},
			anyError: true,
		},
		{
			name: "repo.FindByShortCode returns error",
			req:  ShortenRequest{URL: "https://shortgenerr.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.cache.On("GetShortLink", ctx, "https://shortgenerr.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://shortgenerr.com").Return("", nil)
				m.repo.On("FindByShortCode", ctx, GenerateShortLink("https://shortgenerr.com")).Return(models.Link{}, fmt.Errorf("lookup error"))
			},
			anyError: true,
		},
		{
			name: "all generated keys are collisions",
			req:  ShortenRequest{URL: "https://collide.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.cache.On("GetShortLink", ctx, "https://collide.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://collide.com").Return("", nil)
				taken := models.Link{ShortCode: "taken"}
				m.repo.On("FindByShortCode", ctx, GenerateShortLink("https://collide.com")).Return(taken, nil)
				m.repo.On("FindByShortCode", ctx, GenerateShortLink("https://collide.com_1")).Return(taken, nil)
				m.repo.On("FindByShortCode", ctx, GenerateShortLink("https://collide.com_2")).Return(taken, nil)
			},
			anyError: true,
		},
		{
			name: "repo.Insert returns error",
			req:  ShortenRequest{URL: "https://repoerror.com"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				code := GenerateShortLink("https://repoerror.com")
				m.cache.On("GetShortLink", ctx, "https://repoerror.com").Return("", nil)
				m.repo.On("FindByOriginalURL", ctx, "https://repoerror.com").Return("", nil)
				m.repo.On("FindByShortCode", ctx, code).Return(models.Link{}, models.ErrLinkNotFound)
				m.repo.On("Insert", ctx, mock.Anything).Return(fmt.Errorf("repo error"))
			},
			anyError: true,
		},
		{
			name: "custom alias",
			req:  ShortenRequest{URL: "https://www.google.com", CustomAlias: "my-google"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "my-google").Return(models.Link{}, models.ErrLinkNotFound)
				m.repo.On("Insert", ctx, linkWith("my-google", "https://www.google.com", 0)).Return(nil)
				m.alerts.On("Publish", ctx, "URL created", mock.Anything, message.LevelInfo).Return()
			},
			expectedCode: "my-google",
			created:      true,
		},
		{
			name: "custom alias already in use",
			req:  ShortenRequest{URL: "https://www.openai.com", CustomAlias: "conflict-test"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "conflict-test").Return(models.Link{ShortCode: "conflict-test"}, nil)
			},
			expectError: ErrAliasTaken,
		},
		{
			name: "custom alias claimed between check and insert",
			req:  ShortenRequest{URL: "https://www.openai.com", CustomAlias: "race-test"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "race-test").Return(models.Link{}, models.ErrLinkNotFound)
				m.repo.On("Insert", ctx, mock.Anything).Return(fmt.Errorf("%w: race-test", models.ErrDuplicateCode))
			},
			expectError: ErrAliasTaken,
		},
		{
			name:         "custom alias with bad characters",
			req:          ShortenRequest{URL: "https://www.openai.com", CustomAlias: "no spaces!"},
			mockBehavior: func(ctx context.Context, m serviceMocks) {},
			expectError:  ErrInvalidAlias,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, m, svc := getMocksWithService(t)
			tt.mockBehavior(ctx, m)

			link, created, err := svc.ShortenURL(ctx, tt.req)

			switch {
			case tt.expectError != nil:
				assert.ErrorIs(t, err, tt.expectError)
			case tt.anyError:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedCode, link.ShortCode)
				assert.Equal(t, tt.req.URL, link.OriginalURL)
				assert.Equal(t, tt.created, created)
			}
		})
	}
}

func TestService_Resolve(t *testing.T) {
	type mockBehavior func(ctx context.Context, m serviceMocks)

	tests := []struct {
		name         string
		shortCode    string
		mockBehavior mockBehavior
		expectedURL  string
		expectError  error
		anyError     bool
	}{
		{
			name:      "active link publishes click",
			shortCode: "abc123",
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "abc123").Return(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", Clicks: 4, MaxClicks: 5}, nil)
				m.clicks.On("Publish", ctx, "abc123").Return(true)
			},
			expectedURL: "https://example.com",
		},
		{
			name:      "redirect survives a failed publish",
			shortCode: "abc123",
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "abc123").Return(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com"}, nil)
				m.clicks.On("Publish", ctx, "abc123").Return(false)
			},
			expectedURL: "https://example.com",
		},
		{
			name:      "expired link alerts instead",
			shortCode: "xyz",
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "xyz").Return(models.Link{ShortCode: "xyz", OriginalURL: "https://example.com", Clicks: 5, MaxClicks: 5}, nil)
				m.alerts.On("Publish", ctx, "URL expired", mock.AnythingOfType("string"), message.LevelWarning).Return()
			},
			expectError: ErrExpired,
		},
		{
			name:      "unknown code",
			shortCode: "nope",
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "nope").Return(models.Link{}, models.ErrLinkNotFound)
			},
			expectError: ErrNotFound,
		},
		{
			name:      "DB returns error",
			shortCode: "dberror",
			mockBehavior: func(ctx context.Context, m serviceMocks) {
				m.repo.On("FindByShortCode", ctx, "dberror").Return(models.Link{}, fmt.Errorf("db error"))
			},
			anyError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, m, svc := getMocksWithService(t)
			tt.mockBehavior(ctx, m)

			url, err := svc.Resolve(ctx, tt.shortCode)

			switch {
			case tt.expectError != nil:
				assert.ErrorIs(t, err, tt.expectError)
				m.clicks.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
			case tt.anyError:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedURL, url)
			}
		})
	}
}

func TestService_Stats(t *testing.T) {
	ctx, m, svc := getMocksWithService(t)
	want := models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", Clicks: 3}
	m.repo.On("FindByShortCode", ctx, "abc123").Return(want, nil)
	m.repo.On("FindByShortCode", ctx, "nope").Return(models.Link{}, models.ErrLinkNotFound)

	got, err := svc.Stats(ctx, "abc123")
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = svc.Stats(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateShortLink(t *testing.T) {
	code := GenerateShortLink("https://example.com")
	assert.Len(t, code, shortCodeLength)
	assert.Equal(t, code, GenerateShortLink("https://example.com"))
	assert.NotEqual(t, code, GenerateShortLink("https://example.com_1"))
}

func getMocksWithService(t *testing.T) (ctx context.Context, m serviceMocks, svc *Service) {
	ctx = context.Background()

	m = serviceMocks{
		repo:   mocks.NewLinkRepo(t),
		cache:  mocks.NewLinkCache(t),
		clicks: mocks.NewClickPublisher(t),
		alerts: mocks.NewAlertPublisher(t),
	}
	svc = NewLinkService(m.repo, m.cache, m.clicks, m.alerts)

	return ctx, m, svc
}

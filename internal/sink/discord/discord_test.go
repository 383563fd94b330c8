package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpipe/internal/message"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := New(srv.URL)
	require.NoError(t, err)

	err = s.Send(context.Background(), message.Alert{Title: "URL expired", Message: "xyz", Level: message.LevelWarning})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "⚠️ URL expired", got.Embeds[0].Title)
	assert.Equal(t, "xyz", got.Embeds[0].Description)
	assert.Equal(t, colorWarning, got.Embeds[0].Color)
	assert.Equal(t, "WARNING", got.Embeds[0].Footer.Text)
}

func TestSend_UnknownLevelIsInfo(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), message.Alert{Title: "t", Level: "LOUD"}))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, colorInfo, got.Embeds[0].Color)
	assert.Equal(t, "INFO", got.Embeds[0].Footer.Text)
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited."}`))
	}))
	defer srv.Close()

	s, err := New(srv.URL)
	require.NoError(t, err)

	err = s.Send(context.Background(), message.Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := New(url)
	require.NoError(t, err)
	assert.Error(t, s.Send(context.Background(), message.Alert{Title: "t"}))
}

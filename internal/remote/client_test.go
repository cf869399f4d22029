package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanghyki/badang-post-office/pkg/config"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

func TestTranslateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		_ = json.NewEncoder(w).Encode(translateResponse{Translated: "bonjour"})
	}))
	defer srv.Close()

	c := NewClient(config.CollabConfig{TranslateURL: srv.URL, Timeout: time.Second})
	got, err := c.Translate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", got)
}

func TestTranslateUpstreamErrorIsDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.CollabConfig{TranslateURL: srv.URL, Timeout: time.Second})
	_, err := c.Translate(context.Background(), "hello")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

func TestStylizeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req stylizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1024x1024", req.SizeHint)
		_ = json.NewEncoder(w).Encode(stylizeResponse{
			Photo: base64.StdEncoding.EncodeToString([]byte("styled")),
		})
	}))
	defer srv.Close()

	c := NewClient(config.CollabConfig{StylizeURL: srv.URL, Timeout: time.Second})
	got, err := c.Stylize(context.Background(), []byte("raw"), "1024x1024")
	require.NoError(t, err)
	assert.Equal(t, []byte("styled"), got)
}

func TestRenderReturnsImageBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req renderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "classic", req.TemplateID)
		assert.Equal(t, "bonjour", req.Texts["main_text"])
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := NewClient(config.CollabConfig{RenderURL: srv.URL, Timeout: time.Second})
	got, err := c.Render(context.Background(), "classic",
		map[string]string{"main_text": "bonjour"},
		map[string][]byte{"user_photo": []byte("photo")})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), got)
}

func TestUnconfiguredCollaboratorFailsFast(t *testing.T) {
	c := NewClient(config.CollabConfig{Timeout: time.Second})

	_, err := c.Translate(context.Background(), "hello")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	_, err = c.Stylize(context.Background(), nil, "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	_, err = c.Render(context.Background(), "classic", nil, nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

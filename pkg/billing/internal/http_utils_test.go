package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	t.Run("returns raw bytes", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a": 1}`))
		body, err := ReadBodyStrict(httptest.NewRecorder(), r, 1024)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, string(body))
	})

	t.Run("empty", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		_, err := ReadBodyStrict(httptest.NewRecorder(), r, 1024)
		assert.ErrorIs(t, err, ErrEmptyBody)
	})

	t.Run("too large", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
		_, err := ReadBodyStrict(httptest.NewRecorder(), r, 1024)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusCreated, map[string]bool{"received": true}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
}

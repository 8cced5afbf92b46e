package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripwireBot/internal/ports"
)

func newTestNotifier(t *testing.T, status int, seen func(path string, body map[string]interface{})) *Notifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			seen(r.URL.Path, body)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	n := New("TOKEN", "42")
	n.baseURL = srv.URL
	return n
}

func TestNotify_PostsMessage(t *testing.T) {
	var path string
	var body map[string]interface{}
	n := newTestNotifier(t, http.StatusOK, func(p string, b map[string]interface{}) {
		path, body = p, b
	})

	require.NoError(t, n.Notify(context.Background(), "📈 Trade Executed: BUY 1 BTCUSDT @ 100"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "📈 Trade Executed: BUY 1 BTCUSDT @ 100", body["text"])
}

func TestNotify_StatusMapping(t *testing.T) {
	err := newTestNotifier(t, http.StatusTooManyRequests, nil).Notify(context.Background(), "x")
	assert.True(t, errors.Is(err, ports.ErrRateLimited))

	err = newTestNotifier(t, http.StatusBadRequest, nil).Notify(context.Background(), "x")
	assert.True(t, errors.Is(err, ports.ErrUnknown))
}

func TestNotify_DisabledIsNoop(t *testing.T) {
	n := New("", "")
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "x"))
}

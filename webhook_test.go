package handbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-webhook-secret-123"

type sinkFunc func(ctx context.Context, env Envelope) error

func (f sinkFunc) HandleEnvelope(ctx context.Context, env Envelope) error { return f(ctx, env) }

func webhookBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"type":    EventMessageNew,
		"payload": map[string]string{"_id": "m1", "conversation": "c1", "sender": "u2", "text": "chào"},
	})
	require.NoError(t, err)
	return b
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := webhookBody(t)
	sig := SignWebhookBody(body, testSecret)

	assert.True(t, VerifyWebhookSignature(body, sig, testSecret))
	assert.True(t, VerifyWebhookSignature(body, sig[len("sha256="):], testSecret), "bare hex")
	assert.False(t, VerifyWebhookSignature(body, sig, "wrong-secret"))
	assert.False(t, VerifyWebhookSignature(append(body, ' '), sig, testSecret))
	assert.False(t, VerifyWebhookSignature(body, "sha256=abc", testSecret))
	assert.False(t, VerifyWebhookSignature(body, "sha256=", testSecret))
	assert.False(t, VerifyWebhookSignature(body, "", testSecret))
	assert.False(t, VerifyWebhookSignature(body, sig, ""))
	assert.False(t, VerifyWebhookSignature(nil, sig, testSecret))
}

func TestNewWebhookReceiver(t *testing.T) {
	_, err := NewWebhookReceiver("", nil, nil)
	assert.Error(t, err)

	wh, err := NewWebhookReceiver(testSecret, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, wh)
}

func TestWebhookHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid signature", func(t *testing.T) {
		wh, _ := NewWebhookReceiver(testSecret, nil, nil)
		status, data := wh.Handle(ctx, webhookBody(t), "sha256=bad")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, map[string]string{"error": ErrInvalidSignature.Error()}, data)
	})

	t.Run("not json", func(t *testing.T) {
		wh, _ := NewWebhookReceiver(testSecret, nil, nil)
		body := []byte("not json")
		status, _ := wh.Handle(ctx, body, SignWebhookBody(body, testSecret))
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("missing type", func(t *testing.T) {
		wh, _ := NewWebhookReceiver(testSecret, nil, nil)
		body := []byte(`{"payload":{}}`)
		status, _ := wh.Handle(ctx, body, SignWebhookBody(body, testSecret))
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("delivered to sink and subscribers", func(t *testing.T) {
		var sunk, subscribed []Envelope
		wh, _ := NewWebhookReceiver(testSecret, sinkFunc(func(_ context.Context, env Envelope) error {
			sunk = append(sunk, env)
			return nil
		}), nil)
		wh.Subscribe(func(env Envelope) { subscribed = append(subscribed, env) })

		body := webhookBody(t)
		status, data := wh.Handle(ctx, body, SignWebhookBody(body, testSecret))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, map[string]bool{"ok": true}, data)
		require.Len(t, sunk, 1)
		require.Len(t, subscribed, 1)
		assert.Equal(t, EventMessageNew, sunk[0].Type)
	})

	t.Run("rejected event", func(t *testing.T) {
		wh, _ := NewWebhookReceiver(testSecret, sinkFunc(func(_ context.Context, env Envelope) error {
			_, err := DecodeEvent(env)
			return err
		}), nil)
		body := []byte(`{"type":"message.new","payload":{"text":"no ids"}}`)
		status, _ := wh.Handle(ctx, body, SignWebhookBody(body, testSecret))
		assert.Equal(t, http.StatusUnprocessableEntity, status)
	})

	t.Run("malformed event without sink", func(t *testing.T) {
		wh, _ := NewWebhookReceiver(testSecret, nil, nil)
		var subscribed []Envelope
		wh.Subscribe(func(env Envelope) { subscribed = append(subscribed, env) })

		for _, body := range [][]byte{
			[]byte(`{"type":"message.new","payload":{"text":"no ids"}}`),
			[]byte(`{"type":"story.new","payload":{}}`),
		} {
			status, _ := wh.Handle(ctx, body, SignWebhookBody(body, testSecret))
			assert.Equal(t, http.StatusUnprocessableEntity, status, string(body))
		}
		assert.Empty(t, subscribed)
	})

	t.Run("sink failure", func(t *testing.T) {
		wh, _ := NewWebhookReceiver(testSecret, sinkFunc(func(context.Context, Envelope) error {
			return errors.New("something broke")
		}), nil)
		body := webhookBody(t)
		status, data := wh.Handle(ctx, body, SignWebhookBody(body, testSecret))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, map[string]string{"error": "something broke"}, data)
	})
}

func TestWebhookRouter(t *testing.T) {
	cache := NewQueryCache()
	seedConversation(cache, msg("m0", "c1"))
	bridge := NewBridge(cache)

	wh, err := NewWebhookReceiver(testSecret, bridge, nil)
	require.NoError(t, err)
	// HandleEnvelope needs an attached session.
	bridge.Attach(newFakeSource(), &Session{UserID: "u1"})
	router := wh.Router()

	t.Run("healthz", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("GET events is not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("unsigned", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(webhookBody(t))))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("signed event reaches the cache", func(t *testing.T) {
		body := webhookBody(t)
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, SignWebhookBody(body, testSecret))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, []string{"m1", "m0"}, messageIDs(cachedMessages(t, cache, MessagesKey("c1"))))
	})
}

func TestWebhookReceiverAsEventSource(t *testing.T) {
	cache := NewQueryCache()
	seedConversation(cache, msg("m0", "c1"))
	bridge := NewBridge(cache)

	wh, err := NewWebhookReceiver(testSecret, nil, nil)
	require.NoError(t, err)
	bridge.Attach(wh, &Session{UserID: "u1"})

	body := webhookBody(t)
	status, _ := wh.Handle(context.Background(), body, SignWebhookBody(body, testSecret))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"m1", "m0"}, messageIDs(cachedMessages(t, cache, MessagesKey("c1"))))
	assert.Equal(t, BridgeStats{Handled: 1}, bridge.Stats())
}

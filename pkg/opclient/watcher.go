package opclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"outpatient-backend/internal/realtime"
	"outpatient-backend/internal/visitflow"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Events opens the session's invalidation stream. The channel closes when
// the connection ends or ctx is done.
func (c *Client) Events(ctx context.Context) (<-chan visitflow.Topic, error) {
	token := c.session.token()
	if token == "" {
		return nil, ErrNoSession
	}

	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			_ = c.session.Clear()
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	out := make(chan visitflow.Topic, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer ws.Close()
		for {
			var msg realtime.Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case out <- msg.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// QueueWatcher holds the latest snapshot of one queue. A failed refresh
// keeps the previous snapshot so a dashboard shows stale rows rather than
// none.
type QueueWatcher[T any] struct {
	topic visitflow.Topic
	fetch func(ctx context.Context) (T, error)

	mu      sync.RWMutex
	data    T
	loaded  bool
	lastErr error
}

func NewQueueWatcher[T any](topic visitflow.Topic, fetch func(ctx context.Context) (T, error)) *QueueWatcher[T] {
	return &QueueWatcher[T]{topic: topic, fetch: fetch}
}

// Refresh fetches the queue once.
func (w *QueueWatcher[T]) Refresh(ctx context.Context) error {
	data, err := w.fetch(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err
	if err != nil {
		log.Warn().Err(err).Str("topic", string(w.topic)).Msg("opclient: queue refresh failed, keeping last snapshot")
		return err
	}
	w.data = data
	w.loaded = true
	return nil
}

// Snapshot returns the last good data and whether any fetch succeeded.
func (w *QueueWatcher[T]) Snapshot() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data, w.loaded
}

// Err is the result of the most recent refresh.
func (w *QueueWatcher[T]) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Run fetches on start and again on every event for the watcher's topic.
// It stops when ctx is done, events closes or the session is rejected.
func (w *QueueWatcher[T]) Run(ctx context.Context, events <-chan visitflow.Topic) error {
	if err := w.Refresh(ctx); errors.Is(err, ErrUnauthorized) {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case topic, ok := <-events:
			if !ok {
				return nil
			}
			if topic != w.topic {
				continue
			}
			if err := w.Refresh(ctx); errors.Is(err, ErrUnauthorized) {
				return err
			}
		}
	}
}

package notifications_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/notify/modules/notifications"
	"github.com/coursekit/notify/pkg/engine"
	"github.com/coursekit/notify/pkg/notification"
	"github.com/coursekit/notify/pkg/preferences"
	"github.com/coursekit/notify/pkg/queue"
)

type env struct {
	server *httptest.Server
	store  *engine.MemoryDeliveryStore
	engine *engine.Engine
	queue  *queue.MemoryQueue
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := engine.NewMemoryDeliveryStore()
	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	require.NoError(t, err)

	users := engine.NewMemoryDirectory(
		engine.User{ID: "u1", Email: "ana@example.com", FirstName: "Ana"},
	)

	prefs, err := preferences.NewResolver(preferences.NewMemoryStorage())
	require.NoError(t, err)

	eng, err := engine.New(store, users, prefs, nil, enq, engine.WithJobCanceller(q))
	require.NoError(t, err)

	srv := httptest.NewServer(notifications.Router(notifications.Handlers{
		Engine:      eng,
		Preferences: prefs,
	}))
	t.Cleanup(srv.Close)

	return &env{server: srv, store: store, engine: eng, queue: q}
}

func (e *env) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestRouter_Send(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	resp := e.post(t, "/send", notification.Payload{
		UserID:   "u1",
		Channel:  notification.ChannelEmail,
		Category: notification.CategoryAnnouncement,
		Content:  notification.Content{Subject: "Hello", Body: "World"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		DeliveryID string `json:"delivery_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.DeliveryID)

	d, err := e.store.GetByID(context.Background(), out.DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, d.Status)
}

func TestRouter_Send_SuppressedByPreferences(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	// SMS is opt-in by default, so the request is accepted but suppressed.
	resp := e.post(t, "/send", notification.Payload{
		UserID:   "u1",
		Channel:  notification.ChannelSMS,
		Category: notification.CategoryAnnouncement,
		Content:  notification.Content{Body: "World"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Suppressed bool `json:"suppressed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Suppressed)
}

func TestRouter_Bulk(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	resp := e.post(t, "/bulk", notification.BulkPayload{
		UserIDs:  []string{"u1", "missing"},
		Channels: []notification.Channel{notification.ChannelEmail},
		Category: notification.CategoryAnnouncement,
		Content:  notification.Content{Body: "Hello"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Requested int      `json:"requested"`
		Created   int      `json:"created"`
		IDs       []string `json:"delivery_ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Requested)
	assert.Equal(t, 1, out.Created)
}

func TestRouter_DeliveryLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.engine.Send(ctx, notification.Payload{
		UserID:   "u1",
		Channel:  notification.ChannelEmail,
		Category: notification.CategoryAnnouncement,
		Content:  notification.Content{Body: "Hello"},
	})
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/deliveries/" + id)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var d notification.Delivery
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
		assert.Equal(t, id, d.ID)
	})

	t.Run("list by user", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/deliveries/?user_id=u1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list []notification.Delivery
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		assert.Len(t, list, 1)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/deliveries/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("cancel pending", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, e.server.URL+"/deliveries/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		d, err := e.store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusCancelled, d.Status)
	})

	t.Run("cancel again is a conflict", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, e.server.URL+"/deliveries/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestRouter_Preferences(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	resp, err := http.Get(e.server.URL + "/preferences/u1/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prefs []preferences.Preference
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prefs))
	assert.NotEmpty(t, prefs, "defaults are materialized on first read")

	// Disable email announcements, then verify the change took.
	update := []preferences.Preference{{
		Category: notification.CategoryAnnouncement,
		Channel:  notification.ChannelEmail,
		Enabled:  false,
	}}
	raw, err := json.Marshal(update)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, e.server.URL+"/preferences/u1/", bytes.NewReader(raw))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusNoContent, putResp.StatusCode)

	sendResp := e.post(t, "/send", notification.Payload{
		UserID:   "u1",
		Channel:  notification.ChannelEmail,
		Category: notification.CategoryAnnouncement,
		Content:  notification.Content{Body: "Hello"},
	})
	defer sendResp.Body.Close()

	var out struct {
		Suppressed bool `json:"suppressed"`
	}
	require.NoError(t, json.NewDecoder(sendResp.Body).Decode(&out))
	assert.True(t, out.Suppressed)
}

func TestRouter_Tracking(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.engine.Send(ctx, notification.Payload{
		UserID:   "u1",
		Channel:  notification.ChannelEmail,
		Category: notification.CategoryAnnouncement,
		Content: notification.Content{
			Body: "Hello",
			Actions: []notification.Action{
				{Label: "Open course", URL: "https://example.com/course"},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.engine.MarkSent(ctx, id, "pm-1"))
	require.NoError(t, e.engine.MarkDelivered(ctx, id))

	t.Run("open pixel", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/track/open/" + id + ".gif")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

		d, err := e.store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusOpened, d.Status)
	})

	t.Run("click redirect", func(t *testing.T) {
		client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}}
		resp, err := client.Get(e.server.URL + "/track/click/" + id + "?url=https%3A%2F%2Fexample.com%2Fcourse")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://example.com/course", resp.Header.Get("Location"))

		d, err := e.store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusClicked, d.Status)
	})

	t.Run("bad redirect url rejected", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/track/click/" + id + "?url=javascript")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("url outside the delivery content rejected", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/track/click/" + id + "?url=https%3A%2F%2Fevil.example%2Fphish")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown delivery rejected", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/track/click/missing?url=https%3A%2F%2Fexample.com%2Fcourse")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

package notifications

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/coursekit/notify/pkg/engine"
	"github.com/coursekit/notify/pkg/notification"
	"github.com/coursekit/notify/pkg/preferences"
	"github.com/coursekit/notify/pkg/templates"
)

// Handlers holds the module's dependencies. Preferences is optional;
// without it the preference routes are not mounted.
type Handlers struct {
	Engine      *engine.Engine
	Preferences *preferences.Resolver
	Logger      *slog.Logger
}

func (h Handlers) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type sendResponse struct {
	DeliveryID string `json:"delivery_id,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

func (h Handlers) send(w http.ResponseWriter, r *http.Request) {
	var payload notification.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	id, err := h.Engine.Send(r.Context(), payload)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if id == "" {
		// Preference opt-out: accepted, nothing delivered.
		writeJSON(w, http.StatusAccepted, sendResponse{Suppressed: true})
		return
	}
	writeJSON(w, http.StatusAccepted, sendResponse{DeliveryID: id})
}

type bulkResponse struct {
	DeliveryIDs []string `json:"delivery_ids"`
	Requested   int      `json:"requested"`
	Created     int      `json:"created"`
}

func (h Handlers) sendBulk(w http.ResponseWriter, r *http.Request) {
	var payload notification.BulkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ids := h.Engine.SendBulk(r.Context(), payload)
	writeJSON(w, http.StatusAccepted, bulkResponse{
		DeliveryIDs: ids,
		Requested:   len(payload.UserIDs) * len(payload.Channels),
		Created:     len(ids),
	})
}

func (h Handlers) getDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := engine.ListOptions{
		UserID:     q.Get("user_id"),
		Channel:    notification.Channel(q.Get("channel")),
		Category:   notification.Category(q.Get("category")),
		Status:     notification.Status(q.Get("status")),
		CampaignID: q.Get("campaign_id"),
		Limit:      intParam(q, "limit", 50),
		Offset:     intParam(q, "offset", 0),
	}

	list, err := h.Engine.ListDeliveries(r.Context(), opts)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if list == nil {
		list = []notification.Delivery{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h Handlers) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handlers) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.Preferences.GetUserPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h Handlers) updatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var prefs []preferences.Preference
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	// The path owns the user id; body values cannot update someone else.
	for i := range prefs {
		prefs[i].UserID = userID
	}

	if err := h.Preferences.BulkUpdatePreferences(r.Context(), prefs); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transparentGIF is a 1x1 transparent image served by the open pixel.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (h Handlers) trackOpen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Engine.MarkOpened(r.Context(), id); err != nil {
		// The pixel must render regardless; a broken id is not the
		// mail client's problem.
		h.log().DebugContext(r.Context(), "open tracking failed",
			slog.String("delivery_id", id),
			slog.String("error", err.Error()),
		)
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(transparentGIF)
}

func (h Handlers) trackClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	target := r.URL.Query().Get("url")

	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid redirect url")
		return
	}

	d, err := h.Engine.GetDelivery(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	// Only URLs the notification itself carried may be redirect targets,
	// otherwise the tracker is an open redirect.
	if !clickTargetAllowed(d, target) {
		writeError(w, http.StatusBadRequest, "unknown redirect url")
		return
	}

	if err := h.Engine.MarkClicked(r.Context(), id); err != nil {
		h.log().DebugContext(r.Context(), "click tracking failed",
			slog.String("delivery_id", id),
			slog.String("error", err.Error()),
		)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// clickTargetAllowed reports whether the target URL appears in the
// delivery's content: an action link, or a link embedded in the body or
// HTML part.
func clickTargetAllowed(d *notification.Delivery, target string) bool {
	for _, action := range d.Content.Actions {
		if action.URL == target {
			return true
		}
	}
	return strings.Contains(d.Content.Body, target) ||
		strings.Contains(d.Content.HTML, target)
}

// writeEngineError maps domain errors to HTTP statuses.
func (h Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrDeliveryNotFound),
		errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, templates.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrNotCancellable),
		errors.Is(err, engine.ErrNotExecutable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoAddress),
		errors.Is(err, engine.ErrNoContent),
		errors.Is(err, templates.ErrValidationFailed),
		errors.Is(err, preferences.ErrUserIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log().ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(q url.Values, key string, fallback int) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

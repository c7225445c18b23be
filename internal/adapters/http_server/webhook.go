package httpserver

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"ota_sync/internal/adapters/observability"
)

// reservationWebhook always answers with an acknowledgement body. The status
// code tells the channel manager whether to redeliver (5xx) or stop.
func (h *Handlers) reservationWebhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookSecret != "" {
		got := r.Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			observability.ObserveWebhook("unauthenticated", "rejected")
			log.Warn().Str("remote", remoteIP(r)).Msg("webhook token mismatch")
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid webhook token")
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	ack := h.Receiver.Handle(r.Context(), body)
	writeJSON(w, ack.HTTPStatus, ack)
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/popeskul/wa-relay/internal/handler"
	"github.com/popeskul/wa-relay/internal/signedurl"
)

func setupRouter(h *handler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HealthCheck)

	r.Route("/webhooks/whatsapp", func(r chi.Router) {
		r.Get("/", h.VerifyWebhook)
		r.Post("/", h.ReceiveWebhook)
		r.Get("/{webhookID}", h.VerifyWebhook)
		r.Post("/{webhookID}", h.ReceiveWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.SendMessage)
		r.Delete("/messages/{id}", h.DeleteMessage)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Post("/uploads", h.UploadMedia)
		r.Get("/webhook-events", h.ListWebhookEvents)
		r.Post("/scheduler/start", h.StartScheduler)
		r.Post("/scheduler/stop", h.StopScheduler)
	})

	r.Get(signedurl.Prefix+"*", h.ServeMedia)
	r.Get("/ws", h.Realtime)

	return r
}

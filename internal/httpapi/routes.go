package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchstate/internal/ws"
)

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Log = d.Log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", d.Metrics.Handler())
	r.Get("/ws", ws.Handler(d.Hub, d.Log))

	r.Post("/games/{gameID}/reconcile", Reconcile(d))
	r.Post("/roles/resolve", ResolveRoles)

	r.Post("/matches", CreateMatch(d))
	r.Route("/matches/{matchID}", func(r chi.Router) {
		r.Post("/fill", Fill(d))
		r.Get("/meta", GetMeta(d))
		r.Patch("/meta", PatchMeta(d))
		r.Post("/vote", Vote(d))
		r.Post("/drop-in", DropIn(d))
	})
	return r
}

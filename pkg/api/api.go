// Package api exposes the run registry and artifact store over a
// read-only HTTP API. Launching stays on the CLI; the API exists so
// dashboards and teammates can inspect runs without host access.
package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type API struct {
	Huma   huma.API
	Router *chi.Mux
}

func New() *API {
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("simlaunch", "1.0.0")
	h := humachi.New(router, config)

	return &API{Huma: h, Router: router}
}

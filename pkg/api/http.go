// Package api assembles the HTTP surface: the sync protocol under
// /chat-sync and the desktop bridge endpoints under /agents.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatsyncd/pkg/api/handlers"
	"chatsyncd/pkg/bridge"
	"chatsyncd/pkg/store"
)

// Deps carries the components the routes operate on.
type Deps struct {
	Store   *store.Store
	Bridge  *bridge.Bridge
	Version string
}

// Handler returns the router for all sync and bridge endpoints. The bridge
// routes are only mounted when a desktop path is configured.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()
	handlers.RegisterSync(r.PathPrefix("/chat-sync").Subrouter(), d.Store, d.Version)
	if d.Bridge != nil {
		handlers.RegisterBridge(r.PathPrefix("/agents").Subrouter(), d.Bridge)
	}
	return r
}

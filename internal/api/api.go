// Package api exposes the package registry over HTTP. Handlers translate
// requests into registry service calls and map tagged registry errors to
// status codes; everything else is a 500 with a generic message.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/packreg/packreg/internal/registry"
	"github.com/packreg/packreg/internal/storage"
)

// API bundles the handlers of the registry HTTP surface.
type API struct {
	svc     *registry.Service
	files   *storage.Store
	logger  *slog.Logger
	metrics *Metrics
}

// New creates the API on the given service and archive store.
func New(svc *registry.Service, files *storage.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		svc:     svc,
		files:   files,
		logger:  logger,
		metrics: NewMetrics("packreg"),
	}
}

// Router mounts all registry routes.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Modified-Since"},
	}))
	r.Use(a.metrics.Middleware)

	r.Get("/packages", a.listPackages)
	r.Route("/packages/{pkgName}", func(r chi.Router) {
		r.Get("/", a.getPackage)
		r.Delete("/", a.unpublish)
		r.Get("/{versionStr}", a.getVersion)
		r.Post("/{versionStr}", a.publish)
		r.Delete("/{versionStr}", a.unpublish)
	})

	r.Put("/owners/{pkgName}/{ownerName}", a.changeOwner)
	r.Delete("/owners/{pkgName}/{ownerName}", a.changeOwner)

	r.Get("/search", a.search)
	r.Get("/updates", a.updates)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", a.registerUser)
		r.Post("/password", a.changePassword)
		r.Get("/{username}", a.userExists)
		r.Get("/{username}/salt", a.userSalt)
		r.Post("/{username}/reset", a.initPasswordReset)
		r.Post("/{username}/password", a.resetPassword)
	})

	r.Get("/download/{filename}", a.downloadArchive)
	r.Get("/download/{pkgName}/{versionStr}", a.downloadVersion)

	r.Handle("/metrics", a.metrics.Handler())
	return r
}

// authenticate resolves the basic-auth credentials of a request to a user.
// The password is the client-side pre-hashed digest, not the clear text.
func (a *API) authenticate(r *http.Request) (*registry.User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, registry.Errorf(registry.KindAuthentication, "missing credentials")
	}
	return a.svc.Authenticate(username, password)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeMessage writes a JSON success message.
func writeMessage(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf(format, args...)})
}

// respondError maps a tagged registry error to its status code. Anything
// untagged, and every storage-kind failure, is logged with full detail and
// surfaced as a generic 500.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var regErr *registry.Error
	if errors.As(err, &regErr) && regErr.Kind != registry.KindStorage {
		status := http.StatusBadRequest
		switch regErr.Kind {
		case registry.KindAuthentication:
			status = http.StatusForbidden
		case registry.KindNotFound:
			status = http.StatusNotFound
		}
		a.logger.Info("request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", regErr.Message)
		writeError(w, status, regErr.Message)
		return
	}
	a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

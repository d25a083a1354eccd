package api

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

func (a *API) userExists(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := a.svc.Store().UserByName(username)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User '"+username+"' does not exist")
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (a *API) userSalt(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := a.svc.Store().UserByName(username)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}
	writeJSON(w, http.StatusOK, user.Salt)
}

func (a *API) registerUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.CreateUser(
		r.FormValue("username"),
		r.FormValue("password"),
		r.FormValue("salt"),
		r.FormValue("email"),
	)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeMessage(w, "The user '%s' has been registered", user.Name)
}

// changePassword sets a new password digest for the basic-authenticated
// user.
func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.svc.ChangePassword(user, r.FormValue("password")); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeMessage(w, "Changed password")
}

func (a *API) initPasswordReset(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := a.svc.Store().UserByName(username)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}
	email := r.FormValue("email")
	if err := a.svc.InitPasswordReset(user, email); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeMessage(w, "An email has been sent to %s. Please follow the instructions therein to reset your password", email)
}

// resetPassword sets a new password digest after checking the reset token
// mailed to the user.
func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := a.svc.Store().UserByName(username)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}
	if err := a.svc.ResetPassword(user, r.FormValue("token"), r.FormValue("password")); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeMessage(w, "Your password has been reset")
}

func (a *API) downloadArchive(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	path := filepath.Join(a.files.DownloadDir(), filename)
	http.ServeFile(w, r, path)
}

// downloadVersion redirects a name/version pair, version possibly the
// literal "latest", to the flat archive path.
func (a *API) downloadVersion(w http.ResponseWriter, r *http.Request) {
	pkgName := chi.URLParam(r, "pkgName")
	versionStr := chi.URLParam(r, "versionStr")
	_, version, err := a.resolveVersion(pkgName, versionStr)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if version == nil {
		writeError(w, http.StatusNotFound, "Package '"+pkgName+"' does not exist")
		return
	}
	http.Redirect(w, r, "/download/"+version.Filename, http.StatusSeeOther)
}

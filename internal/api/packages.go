package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/packreg/packreg/internal/descriptor"
	"github.com/packreg/packreg/internal/registry"
	"github.com/packreg/packreg/internal/storage"
)

// maxUploadBytes bounds the in-memory part of multipart parsing; larger
// archive bodies spill to disk.
const maxUploadBytes = 32 << 20

func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := a.svc.Store().AllPackages()
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	views := make([]registry.PackageView, 0, len(pkgs))
	for i := range pkgs {
		view, err := a.svc.SerializePackage(&pkgs[i])
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		views = append(views, *view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	pkgName := chi.URLParam(r, "pkgName")
	pkg, err := a.svc.Store().PackageByName(pkgName)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if pkg == nil {
		writeError(w, http.StatusNotFound, "package '"+pkgName+"' not found")
		return
	}
	view, err := a.svc.SerializePackage(pkg)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) getVersion(w http.ResponseWriter, r *http.Request) {
	pkgName := chi.URLParam(r, "pkgName")
	versionStr := chi.URLParam(r, "versionStr")
	pkg, version, err := a.resolveVersion(pkgName, versionStr)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if version == nil {
		writeError(w, http.StatusNotFound,
			"version "+versionStr+" of package '"+pkgName+"' not found")
		return
	}
	view, err := a.svc.SerializeVersion(pkg, version)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// resolveVersion looks up a package version, treating the literal "latest"
// as the package's current latest. A nil version with a nil error means not
// found.
func (a *API) resolveVersion(pkgName, versionStr string) (*registry.Package, *registry.Version, error) {
	pkg, err := a.svc.Store().PackageByName(pkgName)
	if err != nil || pkg == nil {
		return nil, nil, err
	}
	if versionStr == "latest" {
		if pkg.LatestVersionID == nil {
			return pkg, nil, nil
		}
		version, err := a.svc.Store().VersionByID(*pkg.LatestVersionID)
		return pkg, version, err
	}
	clean, err := descriptor.CleanVersion(versionStr)
	if err != nil {
		return pkg, nil, nil
	}
	version, err := a.svc.Store().Version(pkg.ID, clean)
	return pkg, version, err
}

// publish handles a multipart package upload: a descriptor JSON field, the
// archive in the pkg file field, and an optional force flag. The uploaded
// temp file is released on every exit path.
func (a *API) publish(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	d, err := descriptor.Parse([]byte(r.FormValue("descriptor")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	force := r.FormValue("force") == "true"

	upload, header, err := r.FormFile("pkg")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing package archive")
		return
	}
	defer upload.Close()

	tmp, err := a.files.StoreTemporary(upload, header.Filename)
	if err != nil {
		a.respondError(w, r, registry.Errorf(registry.KindStorage, "store upload: %v", err))
		return
	}
	defer storage.Cleanup(tmp.Path)

	filename := storage.FileName(tmp.Path, d.Name, d.Version)
	if _, _, err := a.svc.Publish(d, filename, tmp.Size, tmp.Checksums, user, force); err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.files.PublishFile(tmp.Path, filename); err != nil {
		a.respondError(w, r, registry.Errorf(registry.KindStorage, "move archive: %v", err))
		return
	}
	writeMessage(w, "The package %s (v%s) has been published", d.Name, d.Version)
}

// unpublish removes a version, or the whole package when the route carries
// no version. Archives are deleted only after the database commit.
func (a *API) unpublish(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	pkgName := chi.URLParam(r, "pkgName")
	versionStr := chi.URLParam(r, "versionStr")

	removed, err := a.svc.Unpublish(pkgName, versionStr, user)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	for _, filename := range removed {
		a.files.RemoveArchive(filename)
	}
	if versionStr == "" {
		writeMessage(w, "Package %s has been removed", pkgName)
		return
	}
	writeMessage(w, "Version %s of package %s has been removed", versionStr, pkgName)
}

func (a *API) changeOwner(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	pkgName := chi.URLParam(r, "pkgName")
	ownerName := chi.URLParam(r, "ownerName")

	if r.Method == http.MethodPut {
		if err := a.svc.AddOwner(pkgName, ownerName, user); err != nil {
			a.respondError(w, r, err)
			return
		}
		writeMessage(w, "Added %s to list of owners of %s", ownerName, pkgName)
		return
	}
	if err := a.svc.RemoveOwner(pkgName, ownerName, user); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeMessage(w, "Removed %s from list of owners of %s", ownerName, pkgName)
}

func (a *API) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("l"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("o"))

	result, err := a.svc.Search(query, limit, offset)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// updates answers an If-Modified-Since poll with the packages updated and
// the package names removed since the given time, or 304 when nothing
// changed.
func (a *API) updates(w http.ResponseWriter, r *http.Request) {
	dateStr := r.Header.Get("If-Modified-Since")
	if dateStr == "" {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	since, err := http.ParseTime(dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'if-modified-since' header")
		return
	}

	pkgs, err := a.svc.Store().PackagesUpdatedSince(since)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	removed, err := a.svc.Store().RemovedPackagesSince(since)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if len(pkgs) == 0 && len(removed) == 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	updated := make([]registry.PackageView, 0, len(pkgs))
	for i := range pkgs {
		view, err := a.svc.SerializePackage(&pkgs[i])
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		updated = append(updated, *view)
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated": updated,
		"removed": removed,
	})
}

package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/packreg/packreg/internal/descriptor"
)

// AuthorView is the serialized form of an author.
type AuthorView struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Web   string `json:"web,omitempty"`
}

// UserView is the serialized form of a user, restricted to public fields.
type UserView struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ChecksumsView carries the stored archive digests.
type ChecksumsView struct {
	MD5    string `json:"md5"`
	SHA1   string `json:"sha1"`
	SHA256 string `json:"sha256"`
}

// VersionView is the serialized form of one package version, merging the
// stored descriptor with the package's current relations.
type VersionView struct {
	Name         string                  `json:"name"`
	Version      string                  `json:"version"`
	Description  string                  `json:"description,omitempty"`
	Keywords     []string                `json:"keywords,omitempty"`
	Latest       string                  `json:"latest"`
	Filename     string                  `json:"filename"`
	Filesize     int64                   `json:"filesize"`
	Modified     time.Time               `json:"modified"`
	Homepage     string                  `json:"homepage,omitempty"`
	Implements   []string                `json:"implements,omitempty"`
	Author       *AuthorView             `json:"author,omitempty"`
	Repositories []descriptor.Repository `json:"repositories"`
	Licenses     []descriptor.License    `json:"licenses"`
	Maintainers  []AuthorView            `json:"maintainers"`
	Contributors []AuthorView            `json:"contributors"`
	Dependencies map[string]string       `json:"dependencies"`
	Engines      map[string]string       `json:"engines,omitempty"`
	Checksums    ChecksumsView           `json:"checksums"`
}

// PackageView is the serialized form of a package: its latest version's
// view, the package modification time, all versions sorted descending, and
// the owner list.
type PackageView struct {
	VersionView
	Versions []VersionView `json:"versions"`
	Owners   []UserView    `json:"owners"`
}

// SerializeVersion builds the view of one version of a package.
func (s *Service) SerializeVersion(pkg *Package, version *Version) (*VersionView, error) {
	return serializeVersion(s.store, pkg, version)
}

// SerializePackage builds the full package view.
func (s *Service) SerializePackage(pkg *Package) (*PackageView, error) {
	if pkg.LatestVersionID == nil {
		return nil, fmt.Errorf("package %q has no latest version", pkg.Name)
	}
	latest, err := s.store.VersionByID(*pkg.LatestVersionID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("latest version of %q is missing", pkg.Name)
	}
	latestView, err := serializeVersion(s.store, pkg, latest)
	if err != nil {
		return nil, err
	}
	view := &PackageView{VersionView: *latestView}
	view.Modified = pkg.ModifyTime

	versions, err := s.store.Versions(pkg.ID)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]*Version, len(versions))
	strs := make([]string, 0, len(versions))
	for i := range versions {
		byVersion[versions[i].Version] = &versions[i]
		strs = append(strs, versions[i].Version)
	}
	descriptor.SortVersionsDesc(strs)
	view.Versions = make([]VersionView, 0, len(strs))
	for _, str := range strs {
		vv, err := serializeVersion(s.store, pkg, byVersion[str])
		if err != nil {
			return nil, err
		}
		view.Versions = append(view.Versions, *vv)
	}

	owners, err := s.store.Owners(pkg.ID)
	if err != nil {
		return nil, err
	}
	view.Owners = make([]UserView, 0, len(owners))
	for _, o := range owners {
		view.Owners = append(view.Owners, UserView{Name: o.Name, Email: o.Email})
	}
	return view, nil
}

func serializeVersion(st *Store, pkg *Package, version *Version) (*VersionView, error) {
	var d descriptor.Descriptor
	if err := json.Unmarshal([]byte(version.Descriptor), &d); err != nil {
		return nil, fmt.Errorf("parse stored descriptor of %s %s: %w", pkg.Name, version.Version, err)
	}

	view := &VersionView{
		Name:         pkg.Name,
		Version:      version.Version,
		Description:  d.Description,
		Keywords:     d.Keywords,
		Filename:     version.Filename,
		Filesize:     version.Filesize,
		Modified:     version.ModifyTime,
		Homepage:     d.Homepage,
		Implements:   d.Implements,
		Repositories: emptyIfNil(d.Repositories),
		Licenses:     emptyIfNil(d.Licenses),
		Dependencies: d.Dependencies,
		Engines:      d.Engines,
		Checksums: ChecksumsView{
			MD5:    version.MD5,
			SHA1:   version.SHA1,
			SHA256: version.SHA256,
		},
	}
	if view.Dependencies == nil {
		view.Dependencies = map[string]string{}
	}

	if pkg.LatestVersionID != nil {
		latest, err := st.VersionByID(*pkg.LatestVersionID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			view.Latest = latest.Version
		}
	}
	if pkg.AuthorID != nil {
		var author Author
		if err := st.db.First(&author, *pkg.AuthorID).Error; err == nil {
			view.Author = &AuthorView{Name: author.Name, Email: author.Email, Web: author.Web}
		}
	}

	maintainers, err := st.Authors(pkg.ID, RoleMaintainer)
	if err != nil {
		return nil, err
	}
	view.Maintainers = authorViews(maintainers)
	contributors, err := st.Authors(pkg.ID, RoleContributor)
	if err != nil {
		return nil, err
	}
	view.Contributors = authorViews(contributors)
	return view, nil
}

func authorViews(authors []Author) []AuthorView {
	views := make([]AuthorView, 0, len(authors))
	for _, a := range authors {
		views = append(views, AuthorView{Name: a.Name, Email: a.Email, Web: a.Web})
	}
	return views
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

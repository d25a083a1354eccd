package registry

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/packreg/packreg/internal/descriptor"
)

// Store provides the relational queries of the registry. Mutating flows
// run Store methods against a transaction handle obtained via withTx.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// withTx returns a Store bound to a transaction handle.
func (s *Store) withTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// AutoMigrate creates or updates all registry tables.
func (s *Store) AutoMigrate() error {
	models := []any{
		&Package{}, &Version{}, &Author{}, &User{},
		&PackageAuthor{}, &PackageOwner{}, &LogEntry{}, &ResetToken{},
	}
	for _, m := range models {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate registry tables: %w", err)
		}
	}
	return nil
}

// PackageByName retrieves a package by its unique name. Returns nil, nil if
// no package exists.
func (s *Store) PackageByName(name string) (*Package, error) {
	var pkg Package
	err := s.db.Where("name = ?", name).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package %q: %w", name, err)
	}
	return &pkg, nil
}

// PackageByID retrieves a package by id. Returns nil, nil if absent.
func (s *Store) PackageByID(id uint) (*Package, error) {
	var pkg Package
	err := s.db.First(&pkg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package %d: %w", id, err)
	}
	return &pkg, nil
}

// AllPackages returns the full catalog ordered by name.
func (s *Store) AllPackages() ([]Package, error) {
	var pkgs []Package
	if err := s.db.Order("name ASC").Find(&pkgs).Error; err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return pkgs, nil
}

// PackagesUpdatedSince returns packages modified after the given time.
func (s *Store) PackagesUpdatedSince(t time.Time) ([]Package, error) {
	var pkgs []Package
	if err := s.db.Where("modifytime > ?", t).Find(&pkgs).Error; err != nil {
		return nil, fmt.Errorf("list updated packages: %w", err)
	}
	return pkgs, nil
}

// Version retrieves a version of a package by its canonical version string.
// Returns nil, nil if absent.
func (s *Store) Version(pkgID uint, version string) (*Version, error) {
	var v Version
	err := s.db.Where("package_id = ? AND version = ?", pkgID, version).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version %s of package %d: %w", version, pkgID, err)
	}
	return &v, nil
}

// VersionByID retrieves a version row by id. Returns nil, nil if absent.
func (s *Store) VersionByID(id uint) (*Version, error) {
	var v Version
	err := s.db.First(&v, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version %d: %w", id, err)
	}
	return &v, nil
}

// Versions returns all versions of a package.
func (s *Store) Versions(pkgID uint) ([]Version, error) {
	var versions []Version
	if err := s.db.Where("package_id = ?", pkgID).Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list versions of package %d: %w", pkgID, err)
	}
	return versions, nil
}

// UserByName retrieves a user by username. Returns nil, nil if absent.
func (s *Store) UserByName(name string) (*User, error) {
	var user User
	err := s.db.Where("name = ?", name).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %q: %w", name, err)
	}
	return &user, nil
}

// UserByID retrieves a user by id. Returns nil, nil if absent.
func (s *Store) UserByID(id uint) (*User, error) {
	var user User
	err := s.db.First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}

// UpsertAuthor finds or creates the author identified by the (name, email)
// pair; an empty email is part of the identity. The stored web URL is
// updated in place when the incoming record carries a different non-empty
// one, and never unset.
func (s *Store) UpsertAuthor(rec descriptor.Author) (*Author, error) {
	var author Author
	err := s.db.Where("name = ? AND email = ?", rec.Name, rec.Email).First(&author).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		author = Author{Name: rec.Name, Email: rec.Email, Web: rec.Web}
		if err := s.db.Create(&author).Error; err != nil {
			return nil, fmt.Errorf("create author %q: %w", rec.Name, err)
		}
		return &author, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get author %q: %w", rec.Name, err)
	}
	if rec.Web != "" && rec.Web != author.Web {
		author.Web = rec.Web
		if err := s.db.Model(&author).Update("web", rec.Web).Error; err != nil {
			return nil, fmt.Errorf("update author %q: %w", rec.Name, err)
		}
	}
	return &author, nil
}

// Authors returns the authors related to a package in the given role.
func (s *Store) Authors(pkgID uint, role string) ([]Author, error) {
	var authors []Author
	err := s.db.
		Joins("JOIN package_authors pa ON pa.author_id = authors.id").
		Where("pa.package_id = ? AND pa.role = ?", pkgID, role).
		Find(&authors).Error
	if err != nil {
		return nil, fmt.Errorf("list %s authors of package %d: %w", role, pkgID, err)
	}
	return authors, nil
}

// ReconcileAuthors brings a package's author relations for one role in line
// with the desired set: relations are added for desired authors not yet
// related and removed for related authors no longer desired. Idempotent.
func (s *Store) ReconcileAuthors(pkgID uint, desired []*Author, role string) error {
	current, err := s.Authors(pkgID, role)
	if err != nil {
		return err
	}
	currentIDs := make(map[uint]bool, len(current))
	for _, a := range current {
		currentIDs[a.ID] = true
	}
	desiredIDs := make(map[uint]bool, len(desired))
	for _, a := range desired {
		desiredIDs[a.ID] = true
	}

	for _, a := range desired {
		if currentIDs[a.ID] {
			continue
		}
		rel := PackageAuthor{PackageID: pkgID, AuthorID: a.ID, Role: role}
		if err := s.db.Create(&rel).Error; err != nil {
			return fmt.Errorf("add %s relation for author %d: %w", role, a.ID, err)
		}
	}
	for _, a := range current {
		if desiredIDs[a.ID] {
			continue
		}
		err := s.db.Where("package_id = ? AND author_id = ? AND role = ?", pkgID, a.ID, role).
			Delete(&PackageAuthor{}).Error
		if err != nil {
			return fmt.Errorf("remove %s relation for author %d: %w", role, a.ID, err)
		}
	}
	return nil
}

// Owners returns the users owning a package.
func (s *Store) Owners(pkgID uint) ([]User, error) {
	var owners []User
	err := s.db.
		Joins("JOIN package_owners po ON po.owner_id = users.id").
		Where("po.package_id = ?", pkgID).
		Find(&owners).Error
	if err != nil {
		return nil, fmt.Errorf("list owners of package %d: %w", pkgID, err)
	}
	return owners, nil
}

// IsOwner reports whether the user owns the package.
func (s *Store) IsOwner(pkgID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&PackageOwner{}).
		Where("package_id = ? AND owner_id = ?", pkgID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check ownership of package %d: %w", pkgID, err)
	}
	return count > 0, nil
}

// RemovedPackagesSince returns the distinct names of packages wholly
// removed after the given time, taken from delete log entries with no
// version string.
func (s *Store) RemovedPackagesSince(t time.Time) ([]string, error) {
	var names []string
	err := s.db.Model(&LogEntry{}).
		Distinct("packagename").
		Where("type = ? AND versionstr IS NULL AND createtime > ?", LogTypeDelete, t).
		Pluck("packagename", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list removed packages: %w", err)
	}
	return names, nil
}

// LogEntries returns the audit log of one package, newest first.
func (s *Store) LogEntries(packageName string) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.Where("packagename = ?", packageName).
		Order("createtime DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list log entries of %q: %w", packageName, err)
	}
	return entries, nil
}

// LatestResetToken returns the newest reset token of a user, or nil, nil.
func (s *Store) LatestResetToken(userID uint) (*ResetToken, error) {
	var token ResetToken
	err := s.db.Where("user_id = ?", userID).Order("createtime DESC").First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reset token of user %d: %w", userID, err)
	}
	return &token, nil
}

// Package registry implements the publish/unpublish transaction pipeline:
// package, version, author, relation and ownership records move together
// with the audit log and the search index inside a single transaction, or
// not at all.
package registry

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/packreg/packreg/internal/descriptor"
	"github.com/packreg/packreg/internal/index"
	"github.com/packreg/packreg/internal/mail"
	"github.com/packreg/packreg/internal/storage"
)

// Service coordinates all registry mutations. It is stateless between
// calls; concurrency correctness rests on the store's transaction
// isolation and the unique index on the package name.
type Service struct {
	db     *gorm.DB
	store  *Store
	idx    index.Index
	mailer mail.Mailer
	logger *slog.Logger
}

// New creates a Service on the given database and search index.
func New(db *gorm.DB, idx index.Index, mailer mail.Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = &mail.LogMailer{Logger: logger}
	}
	return &Service{
		db:     db,
		store:  NewStore(db),
		idx:    idx,
		mailer: mailer,
		logger: logger,
	}
}

// Store exposes the read-side queries of the registry.
func (s *Service) Store() *Store { return s.store }

// indexIn returns the search index bound to the transaction when the index
// lives in the same store, so the index write commits atomically with the
// rows it reflects. External indexes are written as-is, last before commit,
// and any failure aborts the transaction to avoid divergence.
func (s *Service) indexIn(tx *gorm.DB) index.Index {
	if binder, ok := s.idx.(index.TxBinder); ok {
		return binder.WithDB(tx)
	}
	return s.idx
}

// Authenticate verifies a username and the client-supplied pre-hashed
// password against the stored digest. Both are base64; the comparison is a
// constant-time byte comparison, with no server-side re-hashing.
func (s *Service) Authenticate(username, password string) (*User, error) {
	user, err := s.store.UserByName(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, authenticationErrorf("unknown user %s", username)
	}
	stored, err := base64.StdEncoding.DecodeString(user.Password)
	if err != nil {
		return nil, fmt.Errorf("stored digest of user %s is corrupt: %w", username, err)
	}
	presented, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		return nil, authenticationErrorf("password incorrect")
	}
	if len(stored) != len(presented) || subtle.ConstantTimeCompare(stored, presented) != 1 {
		return nil, authenticationErrorf("password incorrect")
	}
	return user, nil
}

// Publish creates or updates a version of a package from an already
// normalized and validated descriptor. The acting user must own an existing
// package; a new package makes the publisher its first owner. A version
// that was already published is only overwritten with force. The caller is
// responsible for moving the archive into the download directory after a
// successful return, and for cleaning up the temporary file in all cases.
func (s *Service) Publish(d *descriptor.Descriptor, filename string, filesize int64, sums storage.Checksums, user *User, force bool) (*Package, *Version, error) {
	pkg, err := s.store.PackageByName(d.Name)
	if err != nil {
		return nil, nil, err
	}
	if pkg != nil {
		owner, err := s.store.IsOwner(pkg.ID, user.ID)
		if err != nil {
			return nil, nil, err
		}
		if !owner {
			return nil, nil, authenticationErrorf("only owners of a package are allowed to publish")
		}
	}

	descriptorJSON, err := d.JSON()
	if err != nil {
		return nil, nil, err
	}

	var version *Version
	err = s.db.Transaction(func(tx *gorm.DB) error {
		st := s.store.withTx(tx)
		now := time.Now()

		contributors, err := upsertAuthors(st, d.Contributors)
		if err != nil {
			return err
		}
		maintainers, err := upsertAuthors(st, d.Maintainers)
		if err != nil {
			return err
		}
		var author *Author
		if d.Author != nil {
			if author, err = st.UpsertAuthor(*d.Author); err != nil {
				return err
			}
		} else if len(contributors) > 0 {
			author = contributors[0]
		} else {
			return validationErrorf("missing author or initial contributor")
		}

		logType := LogTypeAdd
		if pkg == nil {
			pkg = &Package{
				Name:       d.Name,
				AuthorID:   &author.ID,
				CreatorID:  user.ID,
				ModifierID: user.ID,
				ModifyTime: now,
			}
			if err := tx.Create(pkg).Error; err != nil {
				return fmt.Errorf("create package %q: %w", d.Name, err)
			}
			rel := PackageOwner{PackageID: pkg.ID, OwnerID: user.ID, CreatorID: user.ID}
			if err := tx.Create(&rel).Error; err != nil {
				return fmt.Errorf("add initial owner of %q: %w", d.Name, err)
			}
		} else {
			if version, err = st.Version(pkg.ID, d.Version); err != nil {
				return err
			}
		}

		switch {
		case version == nil:
			version = &Version{
				PackageID:  pkg.ID,
				Version:    d.Version,
				Descriptor: descriptorJSON,
				Filename:   filename,
				Filesize:   filesize,
				MD5:        sums.MD5,
				SHA1:       sums.SHA1,
				SHA256:     sums.SHA256,
				CreatorID:  user.ID,
				ModifierID: user.ID,
				ModifyTime: now,
			}
			if err := tx.Create(version).Error; err != nil {
				return fmt.Errorf("create version %s of %q: %w", d.Version, d.Name, err)
			}
			// A newly published version always becomes the latest,
			// whatever its position in version ordering.
			if err := setLatest(tx, pkg, version, user, now); err != nil {
				return err
			}
		case force:
			logType = LogTypeUpdate
			version.Descriptor = descriptorJSON
			version.Filename = filename
			version.Filesize = filesize
			version.MD5 = sums.MD5
			version.SHA1 = sums.SHA1
			version.SHA256 = sums.SHA256
			version.ModifierID = user.ID
			version.ModifyTime = now
			if err := tx.Save(version).Error; err != nil {
				return fmt.Errorf("update version %s of %q: %w", d.Version, d.Name, err)
			}
			// The package descriptor mirrors the overwritten version
			// only when it is the current latest.
			if pkg.LatestVersionID != nil && *pkg.LatestVersionID == version.ID {
				if err := setLatest(tx, pkg, version, user, now); err != nil {
					return err
				}
			} else if err := touchPackage(tx, pkg, user, now); err != nil {
				return err
			}
		default:
			return conflictErrorf("version %s of package %s has already been published", d.Version, d.Name)
		}

		if err := st.ReconcileAuthors(pkg.ID, contributors, RoleContributor); err != nil {
			return err
		}
		if err := st.ReconcileAuthors(pkg.ID, maintainers, RoleMaintainer); err != nil {
			return err
		}

		if err := appendLog(tx, logType, d.Name, &d.Version, user.ID); err != nil {
			return err
		}

		doc, err := buildDocument(st, pkg)
		if err != nil {
			return err
		}
		return s.indexIn(tx).Upsert(doc)
	})
	if err != nil {
		s.logger.Error("publish failed", "package", d.Name, "version", d.Version, "error", err)
		return nil, nil, err
	}
	s.logger.Info("published", "package", d.Name, "version", d.Version, "user", user.Name, "force", force)
	return pkg, version, nil
}

// Unpublish removes one version, or the whole package when versionStr is
// empty. Removing the only remaining version removes the whole package.
// Returns the archive filenames the caller must delete from the download
// directory after the commit; file deletion is not transactional with the
// database change.
func (s *Service) Unpublish(pkgName, versionStr string, user *User) ([]string, error) {
	pkg, err := s.store.PackageByName(pkgName)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, notFoundErrorf("package %q does not exist", pkgName)
	}
	owner, err := s.store.IsOwner(pkg.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, authenticationErrorf("only owners of a package are allowed to unpublish")
	}

	var removed []string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		st := s.store.withTx(tx)
		if versionStr == "" {
			removed, err = s.removePackage(tx, st, pkg, user)
			return err
		}

		clean, err := descriptor.CleanVersion(versionStr)
		if err != nil {
			return validationErrorf("invalid version number %q", versionStr)
		}
		version, err := st.Version(pkg.ID, clean)
		if err != nil {
			return err
		}
		if version == nil {
			return notFoundErrorf("version %s of package %s does not exist", versionStr, pkg.Name)
		}
		versions, err := st.Versions(pkg.ID)
		if err != nil {
			return err
		}
		if len(versions) == 1 {
			// A package cannot exist with zero versions.
			removed, err = s.removePackage(tx, st, pkg, user)
			return err
		}

		if err := tx.Delete(version).Error; err != nil {
			return fmt.Errorf("delete version %s of %q: %w", clean, pkg.Name, err)
		}
		now := time.Now()
		if pkg.LatestVersionID != nil && *pkg.LatestVersionID == version.ID {
			if err := reassignLatest(tx, st, pkg, user, now); err != nil {
				return err
			}
		} else if err := touchPackage(tx, pkg, user, now); err != nil {
			return err
		}
		if err := appendLog(tx, LogTypeDelete, pkg.Name, &version.Version, user.ID); err != nil {
			return err
		}
		doc, err := buildDocument(st, pkg)
		if err != nil {
			return err
		}
		if err := s.indexIn(tx).Upsert(doc); err != nil {
			return err
		}
		removed = []string{version.Filename}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("unpublished", "package", pkgName, "version", versionStr, "user", user.Name)
	return removed, nil
}

// removePackage deletes a package with all versions, relations and
// ownerships, its search document, and appends a whole-package delete log
// entry. Returns the archive filenames of the removed versions.
func (s *Service) removePackage(tx *gorm.DB, st *Store, pkg *Package, user *User) ([]string, error) {
	versions, err := st.Versions(pkg.ID)
	if err != nil {
		return nil, err
	}
	filenames := make([]string, 0, len(versions))
	for _, v := range versions {
		filenames = append(filenames, v.Filename)
	}
	if err := tx.Where("package_id = ?", pkg.ID).Delete(&Version{}).Error; err != nil {
		return nil, fmt.Errorf("delete versions of %q: %w", pkg.Name, err)
	}
	if err := tx.Where("package_id = ?", pkg.ID).Delete(&PackageAuthor{}).Error; err != nil {
		return nil, fmt.Errorf("delete author relations of %q: %w", pkg.Name, err)
	}
	if err := tx.Where("package_id = ?", pkg.ID).Delete(&PackageOwner{}).Error; err != nil {
		return nil, fmt.Errorf("delete ownerships of %q: %w", pkg.Name, err)
	}
	if err := tx.Delete(pkg).Error; err != nil {
		return nil, fmt.Errorf("delete package %q: %w", pkg.Name, err)
	}
	if err := appendLog(tx, LogTypeDelete, pkg.Name, nil, user.ID); err != nil {
		return nil, err
	}
	if err := s.indexIn(tx).Remove(pkg.ID); err != nil {
		return nil, err
	}
	return filenames, nil
}

// AddOwner adds a user to the owners of a package. Only an existing owner
// may add owners.
func (s *Service) AddOwner(pkgName, targetUsername string, actingUser *User) error {
	pkg, target, err := s.resolveOwnerChange(pkgName, targetUsername, actingUser)
	if err != nil {
		return err
	}
	already, err := s.store.IsOwner(pkg.ID, target.ID)
	if err != nil {
		return err
	}
	if already {
		return conflictErrorf("%s is already owner of %s", target.Name, pkg.Name)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		rel := PackageOwner{PackageID: pkg.ID, OwnerID: target.ID, CreatorID: actingUser.ID}
		if err := tx.Create(&rel).Error; err != nil {
			return fmt.Errorf("add owner %s to %q: %w", target.Name, pkg.Name, err)
		}
		return touchPackage(tx, pkg, actingUser, time.Now())
	})
}

// RemoveOwner removes a user from the owners of a package. The last owner
// can never be removed.
func (s *Service) RemoveOwner(pkgName, targetUsername string, actingUser *User) error {
	pkg, target, err := s.resolveOwnerChange(pkgName, targetUsername, actingUser)
	if err != nil {
		return err
	}
	isOwner, err := s.store.IsOwner(pkg.ID, target.ID)
	if err != nil {
		return err
	}
	if !isOwner {
		return conflictErrorf("%s is not among the owners of %s", target.Name, pkg.Name)
	}
	owners, err := s.store.Owners(pkg.ID)
	if err != nil {
		return err
	}
	if len(owners) < 2 {
		return conflictErrorf("%s must have at least one owner", pkg.Name)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("package_id = ? AND owner_id = ?", pkg.ID, target.ID).
			Delete(&PackageOwner{}).Error
		if err != nil {
			return fmt.Errorf("remove owner %s from %q: %w", target.Name, pkg.Name, err)
		}
		return touchPackage(tx, pkg, actingUser, time.Now())
	})
}

func (s *Service) resolveOwnerChange(pkgName, targetUsername string, actingUser *User) (*Package, *User, error) {
	pkg, err := s.store.PackageByName(pkgName)
	if err != nil {
		return nil, nil, err
	}
	if pkg == nil {
		return nil, nil, notFoundErrorf("package %q does not exist", pkgName)
	}
	target, err := s.store.UserByName(targetUsername)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, notFoundErrorf("user %q does not exist", targetUsername)
	}
	acting, err := s.store.IsOwner(pkg.ID, actingUser.ID)
	if err != nil {
		return nil, nil, err
	}
	if !acting {
		return nil, nil, authenticationErrorf("only a package owner can manage owners")
	}
	return pkg, target, nil
}

// CreateUser registers a new user account. The password is the digest the
// client computed with the given salt.
func (s *Service) CreateUser(username, password, salt, email string) (*User, error) {
	for name, value := range map[string]string{
		"username": username, "password": password, "salt": salt, "email": email,
	} {
		if value == "" {
			return nil, validationErrorf("missing or invalid %s", name)
		}
	}
	existing, err := s.store.UserByName(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflictErrorf("please choose a different username")
	}
	user := &User{
		Name:       username,
		Password:   password,
		Salt:       salt,
		Email:      email,
		ModifyTime: time.Now(),
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	s.logger.Info("created user account", "user", username, "email", email)
	return user, nil
}

// ChangePassword stores a new password digest for an already authenticated
// user.
func (s *Service) ChangePassword(user *User, newPassword string) error {
	if newPassword == "" {
		return validationErrorf("missing or invalid password")
	}
	err := s.db.Model(user).Updates(map[string]any{
		"password":   newPassword,
		"modifytime": time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("change password of %q: %w", user.Name, err)
	}
	return nil
}

// InitPasswordReset issues a reset token for the user and mails it to the
// account's address. The given email must match the stored one.
func (s *Service) InitPasswordReset(user *User, email string) error {
	if user.Email != email {
		return authenticationErrorf("email address does not match")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		token := &ResetToken{UserID: user.ID, Hash: newTokenHash()}
		if err := tx.Create(token).Error; err != nil {
			return fmt.Errorf("create reset token for %q: %w", user.Name, err)
		}
		body := fmt.Sprintf("Hello %s!\n\n"+
			"You've requested to reset your password in the package registry.\n"+
			"Copy/paste the following token when asked for it:\n\n%s\n\n"+
			"Please note that your token will be valid for only 24 hours.",
			user.Name, token.Hash)
		return s.mailer.Send(
			fmt.Sprintf("%s <%s>", user.Name, user.Email),
			"Your password reset request in the package registry",
			body,
		)
	})
}

// ResetPassword sets a new password digest after validating the presented
// reset token, and consumes the token.
func (s *Service) ResetPassword(user *User, tokenStr, password string) error {
	token, err := s.store.LatestResetToken(user.ID)
	if err != nil {
		return err
	}
	if token == nil || !token.Valid(user, tokenStr, time.Now()) {
		return authenticationErrorf("password reset token is invalid")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(user).Updates(map[string]any{
			"password":   password,
			"modifytime": time.Now(),
		}).Error
		if err != nil {
			return fmt.Errorf("reset password of %q: %w", user.Name, err)
		}
		if err := tx.Delete(token).Error; err != nil {
			return fmt.Errorf("consume reset token of %q: %w", user.Name, err)
		}
		return nil
	})
}

// SearchResult is a page of ranked search hits with serialized packages.
type SearchResult struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Length int           `json:"length"`
	Hits   []PackageView `json:"hits"`
}

// Search runs a relevance-ranked query against the search index and
// resolves the hits to full package views. Hits whose package disappeared
// between index write and lookup are skipped.
func (s *Service) Search(query string, limit, offset int) (*SearchResult, error) {
	res, err := s.idx.Search(query, limit, offset)
	if err != nil {
		return nil, err
	}
	result := &SearchResult{
		Total:  res.Total,
		Offset: res.Offset,
		Length: res.Length,
		Hits:   []PackageView{},
	}
	for _, id := range res.IDs {
		pkg, err := s.store.PackageByID(id)
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			continue
		}
		view, err := s.SerializePackage(pkg)
		if err != nil {
			return nil, err
		}
		result.Hits = append(result.Hits, *view)
	}
	return result, nil
}

// RebuildIndex clears the search index and re-adds a document for every
// package, the recovery path after the index diverged from the store.
func (s *Service) RebuildIndex() error {
	if err := s.idx.Clear(); err != nil {
		return err
	}
	pkgs, err := s.store.AllPackages()
	if err != nil {
		return err
	}
	for i := range pkgs {
		doc, err := buildDocument(s.store, &pkgs[i])
		if err != nil {
			return err
		}
		if err := s.idx.Upsert(doc); err != nil {
			return err
		}
	}
	s.logger.Info("rebuilt search index", "packages", len(pkgs))
	return nil
}

// upsertAuthors resolves descriptor author entries to stored author
// records, creating them on first encounter.
func upsertAuthors(st *Store, entries []descriptor.Author) ([]*Author, error) {
	authors := make([]*Author, 0, len(entries))
	for _, entry := range entries {
		author, err := st.UpsertAuthor(entry)
		if err != nil {
			return nil, err
		}
		authors = append(authors, author)
	}
	return authors, nil
}

// setLatest points the package at a version, mirrors that version's
// descriptor onto the package row, and touches the modification metadata.
// The representative author is fixed at package creation and not updated
// here.
func setLatest(tx *gorm.DB, pkg *Package, version *Version, user *User, now time.Time) error {
	pkg.LatestVersionID = &version.ID
	pkg.Descriptor = version.Descriptor
	pkg.ModifierID = user.ID
	pkg.ModifyTime = now
	err := tx.Model(&Package{}).Where("id = ?", pkg.ID).Updates(map[string]any{
		"latest_version_id": version.ID,
		"descriptor":        version.Descriptor,
		"modifier_id":       user.ID,
		"modifytime":        now,
	}).Error
	if err != nil {
		return fmt.Errorf("update package %q: %w", pkg.Name, err)
	}
	return nil
}

// reassignLatest recomputes the package's latest from the remaining
// versions by semantic version ordering. Called only after the previous
// latest was removed; a plain publish never reorders, the newest upload
// wins.
func reassignLatest(tx *gorm.DB, st *Store, pkg *Package, user *User, now time.Time) error {
	versions, err := st.Versions(pkg.ID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("package %q has no versions", pkg.Name)
	}
	byVersion := make(map[string]*Version, len(versions))
	strs := make([]string, 0, len(versions))
	for i := range versions {
		byVersion[versions[i].Version] = &versions[i]
		strs = append(strs, versions[i].Version)
	}
	descriptor.SortVersionsDesc(strs)
	return setLatest(tx, pkg, byVersion[strs[0]], user, now)
}

func touchPackage(tx *gorm.DB, pkg *Package, user *User, now time.Time) error {
	err := tx.Model(&Package{}).Where("id = ?", pkg.ID).Updates(map[string]any{
		"modifier_id": user.ID,
		"modifytime":  now,
	}).Error
	if err != nil {
		return fmt.Errorf("touch package %q: %w", pkg.Name, err)
	}
	return nil
}

func appendLog(tx *gorm.DB, logType, packageName string, versionStr *string, userID uint) error {
	entry := LogEntry{
		ID:          uuid.New().String(),
		Type:        logType,
		PackageName: packageName,
		VersionStr:  versionStr,
		UserID:      userID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("append %s log entry for %q: %w", logType, packageName, err)
	}
	return nil
}

// buildDocument assembles the search document of a package from its latest
// descriptor and related author names.
func buildDocument(st *Store, pkg *Package) (*index.Document, error) {
	var d descriptor.Descriptor
	if pkg.Descriptor != "" {
		if err := json.Unmarshal([]byte(pkg.Descriptor), &d); err != nil {
			return nil, fmt.Errorf("parse stored descriptor of %q: %w", pkg.Name, err)
		}
	}
	var names []string
	if pkg.AuthorID != nil {
		var author Author
		if err := st.db.First(&author, *pkg.AuthorID).Error; err == nil {
			names = append(names, author.Name)
		}
	}
	for _, role := range []string{RoleMaintainer, RoleContributor} {
		authors, err := st.Authors(pkg.ID, role)
		if err != nil {
			return nil, err
		}
		for _, a := range authors {
			names = append(names, a.Name)
		}
	}
	return &index.Document{
		PackageID:   pkg.ID,
		Name:        pkg.Name,
		Description: d.Description,
		Keywords:    d.Keywords,
		Authors:     names,
		ModifyTime:  pkg.ModifyTime,
	}, nil
}

// newTokenHash returns a short random token, base64 encoded.
func newTokenHash() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

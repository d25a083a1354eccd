package registry

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/packreg/packreg/internal/descriptor"
	"github.com/packreg/packreg/internal/index"
	"github.com/packreg/packreg/internal/mail"
	"github.com/packreg/packreg/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	idx := index.NewSQLIndex(db)
	require.NoError(t, idx.AutoMigrate())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, idx, &mail.LogMailer{Logger: log}, log)
}

func digest(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(password))
}

func newUser(t *testing.T, svc *Service, name string) *User {
	t.Helper()
	user, err := svc.CreateUser(name, digest("secret-"+name), "salt-"+name, name+"@example.org")
	require.NoError(t, err)
	return user
}

func desc(name, version string, contributors ...string) *descriptor.Descriptor {
	d := &descriptor.Descriptor{Name: name, Version: version}
	for _, c := range contributors {
		d.Contributors = append(d.Contributors, descriptor.Author{Name: c})
	}
	if len(contributors) == 0 {
		d.Author = &descriptor.Author{Name: "anonymous"}
	}
	return d
}

var testSums = storage.Checksums{MD5: "m", SHA1: "s1", SHA256: "s256"}

func publish(t *testing.T, svc *Service, d *descriptor.Descriptor, user *User, force bool) (*Package, *Version) {
	t.Helper()
	require.NoError(t, d.Validate())
	pkg, version, err := svc.Publish(d, d.Name+"-"+d.Version+".zip", 42, testSums, user, force)
	require.NoError(t, err)
	return pkg, version
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	return regErr.Kind
}

func count[T any](t *testing.T, svc *Service, model T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, svc.db.Model(model).Count(&n).Error)
	return n
}

func TestPublish_FreshPackage(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")

	pkg, version, err := svc.Publish(desc("pkg1", "1.0", "alice"), "pkg1-1.0.zip", 42, testSums, bob, false)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	require.NotNil(t, version)

	assert.Equal(t, "pkg1", pkg.Name)
	require.NotNil(t, pkg.LatestVersionID)
	assert.Equal(t, version.ID, *pkg.LatestVersionID)
	assert.Equal(t, "1.0", version.Version)
	assert.Equal(t, testSums.MD5, version.MD5)

	owners, err := svc.Store().Owners(pkg.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "bob", owners[0].Name)

	// The representative author falls back to the first contributor.
	require.NotNil(t, pkg.AuthorID)
	var author Author
	require.NoError(t, svc.db.First(&author, *pkg.AuthorID).Error)
	assert.Equal(t, "alice", author.Name)

	contributors, err := svc.Store().Authors(pkg.ID, RoleContributor)
	require.NoError(t, err)
	require.Len(t, contributors, 1)

	entries, err := svc.Store().LogEntries("pkg1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, LogTypeAdd, entries[0].Type)
	require.NotNil(t, entries[0].VersionStr)
	assert.Equal(t, "1.0", *entries[0].VersionStr)

	res, err := svc.Search("pkg1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestPublish_DuplicateWithoutForce(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	authorsBefore := count(t, svc, &Author{})
	relationsBefore := count(t, svc, &PackageAuthor{})
	logsBefore := count(t, svc, &LogEntry{})
	versionsBefore := count(t, svc, &Version{})

	d := desc("pkg1", "1.0", "alice", "carol")
	require.NoError(t, d.Validate())
	_, _, err := svc.Publish(d, "pkg1-1.0.zip", 99, testSums, bob, false)
	assert.Equal(t, KindConflict, kindOf(t, err))

	// The rejected publish leaves the store unchanged, including the
	// author upserts made earlier in the same attempt.
	assert.Equal(t, authorsBefore, count(t, svc, &Author{}))
	assert.Equal(t, relationsBefore, count(t, svc, &PackageAuthor{}))
	assert.Equal(t, logsBefore, count(t, svc, &LogEntry{}))
	assert.Equal(t, versionsBefore, count(t, svc, &Version{}))
}

func TestPublish_ForceOverwritesVersion(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	pkg, first := publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	newSums := storage.Checksums{MD5: "m2", SHA1: "s12", SHA256: "s2562"}
	d := desc("pkg1", "1.0", "alice")
	d.Description = "updated description"
	require.NoError(t, d.Validate())
	_, updated, err := svc.Publish(d, "pkg1-1.0.zip", 77, newSums, bob, true)
	require.NoError(t, err)

	assert.Equal(t, first.ID, updated.ID, "no second version row")
	assert.Equal(t, int64(1), count(t, svc, &Version{}))
	assert.Equal(t, "m2", updated.MD5)
	assert.Equal(t, int64(77), updated.Filesize)
	assert.True(t, updated.ModifyTime.After(first.ModifyTime) || updated.ModifyTime.Equal(first.ModifyTime))

	// The forced latest descriptor is mirrored onto the package.
	reloaded, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	assert.Contains(t, reloaded.Descriptor, "updated description")
	_ = pkg

	entries, err := svc.Store().LogEntries("pkg1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, LogTypeUpdate, entries[0].Type)
}

func TestPublish_NonOwnerRejected(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	eve := newUser(t, svc, "eve")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	d := desc("pkg1", "2.0", "alice")
	require.NoError(t, d.Validate())
	_, _, err := svc.Publish(d, "pkg1-2.0.zip", 42, testSums, eve, false)
	assert.Equal(t, KindAuthentication, kindOf(t, err))
	assert.Equal(t, int64(1), count(t, svc, &Version{}))
}

// Ownership is evaluated before the transaction opens, so a rejected
// publish never starts transactional work: no author upserts, no version
// row, no log entry. The window between that check and the commit is an
// accepted race; an ownership change landing inside it goes undetected.
func TestPublish_OwnershipCheckedBeforeTransaction(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	eve := newUser(t, svc, "eve")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	authorsBefore := count(t, svc, &Author{})
	logsBefore := count(t, svc, &LogEntry{})
	versionsBefore := count(t, svc, &Version{})

	d := desc("pkg1", "2.0", "alice", "mallory")
	require.NoError(t, d.Validate())
	_, _, err := svc.Publish(d, "pkg1-2.0.zip", 42, testSums, eve, false)
	assert.Equal(t, KindAuthentication, kindOf(t, err))

	// mallory was never upserted: the rejection happened before any
	// store mutation, not by rollback.
	assert.Equal(t, authorsBefore, count(t, svc, &Author{}))
	assert.Equal(t, logsBefore, count(t, svc, &LogEntry{}))
	assert.Equal(t, versionsBefore, count(t, svc, &Version{}))
	var mallory int64
	require.NoError(t, svc.db.Model(&Author{}).Where("name = ?", "mallory").Count(&mallory).Error)
	assert.Zero(t, mallory)
}

func TestPublish_NewerVersionBecomesLatest(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	_, second := publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	require.NotNil(t, pkg.LatestVersionID)
	assert.Equal(t, second.ID, *pkg.LatestVersionID)
}

// Every newly published version becomes the latest, even when it sorts
// below an existing one; version ordering only matters when the latest is
// removed.
func TestPublish_LastPublishedBecomesLatest(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)
	_, older := publish(t, svc, desc("pkg1", "1.5", "alice"), bob, false)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	require.NotNil(t, pkg.LatestVersionID)
	assert.Equal(t, older.ID, *pkg.LatestVersionID)

	latest, err := svc.Store().VersionByID(*pkg.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "1.5", latest.Version)
}

func TestPublish_ForceOnNonLatestKeepsPackageDescriptor(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)

	d := desc("pkg1", "1.0", "alice")
	d.Description = "backported fix"
	require.NoError(t, d.Validate())
	_, _, err := svc.Publish(d, "pkg1-1.0.zip", 42, testSums, bob, true)
	require.NoError(t, err)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	assert.NotContains(t, pkg.Descriptor, "backported fix",
		"overwriting a non-latest version leaves the package descriptor alone")
	require.NotNil(t, pkg.LatestVersionID)
	latest, err := svc.Store().VersionByID(*pkg.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "2.0", latest.Version)
}

func TestPublish_RelationsReconciled(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice", "carol"), bob, false)

	// The next publish drops carol, adds dave, and lists dave first.
	publish(t, svc, desc("pkg1", "2.0", "dave", "alice"), bob, false)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	contributors, err := svc.Store().Authors(pkg.ID, RoleContributor)
	require.NoError(t, err)
	names := make([]string, 0, len(contributors))
	for _, c := range contributors {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"alice", "dave"}, names)

	// The representative author is fixed at creation; a later publish
	// with a different first contributor does not reassign it.
	var alice Author
	require.NoError(t, svc.db.Where("name = ?", "alice").First(&alice).Error)
	require.NotNil(t, pkg.AuthorID)
	assert.Equal(t, alice.ID, *pkg.AuthorID)

	// carol's author record survives the relation removal.
	var carol Author
	require.NoError(t, svc.db.Where("name = ?", "carol").First(&carol).Error)
}

func TestUnpublish_WholePackage(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)

	removed, err := svc.Unpublish("pkg1", "", bob)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pkg1-1.0.zip", "pkg1-2.0.zip"}, removed)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	assert.Nil(t, pkg)
	assert.Zero(t, count(t, svc, &Version{}))
	assert.Zero(t, count(t, svc, &PackageAuthor{}))
	assert.Zero(t, count(t, svc, &PackageOwner{}))

	// Authors and users are never deleted by unpublish.
	assert.Equal(t, int64(1), count(t, svc, &Author{}))
	assert.Equal(t, int64(1), count(t, svc, &User{}))

	res, err := svc.Search("pkg1", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Total)

	entries, err := svc.Store().LogEntries("pkg1")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, LogTypeDelete, entries[0].Type)
	assert.Nil(t, entries[0].VersionStr, "whole-package delete logs a null version")
}

func TestUnpublish_OnlyVersionRemovesPackage(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	removed, err := svc.Unpublish("pkg1", "1.0", bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg1-1.0.zip"}, removed)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	assert.Nil(t, pkg, "removing the only version removes the package")

	entries, err := svc.Store().LogEntries("pkg1")
	require.NoError(t, err)
	assert.Nil(t, entries[0].VersionStr)
}

func TestUnpublish_LatestReassigned(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)
	publish(t, svc, desc("pkg1", "3.0", "alice"), bob, false)

	removed, err := svc.Unpublish("pkg1", "3.0", bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg1-3.0.zip"}, removed)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	require.NotNil(t, pkg)
	require.NotNil(t, pkg.LatestVersionID)
	latest, err := svc.Store().VersionByID(*pkg.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "2.0", latest.Version)

	entries, err := svc.Store().LogEntries("pkg1")
	require.NoError(t, err)
	assert.Equal(t, LogTypeDelete, entries[0].Type)
	require.NotNil(t, entries[0].VersionStr)
	assert.Equal(t, "3.0", *entries[0].VersionStr)
}

// Removing a latest that sorts below other versions hands the pointer to
// the semver maximum of what remains, not to the previously published one.
func TestUnpublish_ReassignmentPicksHighestRemaining(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)
	publish(t, svc, desc("pkg1", "1.5", "alice"), bob, false)

	// 1.5 was published last, so it is the latest.
	_, err := svc.Unpublish("pkg1", "1.5", bob)
	require.NoError(t, err)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	require.NotNil(t, pkg.LatestVersionID)
	latest, err := svc.Store().VersionByID(*pkg.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "2.0", latest.Version)
}

func TestUnpublish_NonLatestKeepsLatest(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	_, newest := publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)

	_, err := svc.Unpublish("pkg1", "1.0", bob)
	require.NoError(t, err)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	require.NotNil(t, pkg.LatestVersionID)
	assert.Equal(t, newest.ID, *pkg.LatestVersionID)
}

func TestUnpublish_Errors(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	eve := newUser(t, svc, "eve")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	_, err := svc.Unpublish("nosuch", "", bob)
	assert.Equal(t, KindNotFound, kindOf(t, err))

	_, err = svc.Unpublish("pkg1", "9.9", bob)
	assert.Equal(t, KindNotFound, kindOf(t, err))

	_, err = svc.Unpublish("pkg1", "not-a-version", bob)
	assert.Equal(t, KindValidation, kindOf(t, err))

	_, err = svc.Unpublish("pkg1", "", eve)
	assert.Equal(t, KindAuthentication, kindOf(t, err))
}

func TestOwners_AddAndRemove(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	carol := newUser(t, svc, "carol")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	require.NoError(t, svc.AddOwner("pkg1", "carol", bob))
	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	owners, err := svc.Store().Owners(pkg.ID)
	require.NoError(t, err)
	assert.Len(t, owners, 2)

	// Duplicate addition conflicts.
	err = svc.AddOwner("pkg1", "carol", bob)
	assert.Equal(t, KindConflict, kindOf(t, err))

	// Now carol can remove bob.
	require.NoError(t, svc.RemoveOwner("pkg1", "bob", carol))
	owners, err = svc.Store().Owners(pkg.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "carol", owners[0].Name)
}

func TestOwners_Authorization(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	eve := newUser(t, svc, "eve")
	newUser(t, svc, "carol")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	err := svc.AddOwner("pkg1", "carol", eve)
	assert.Equal(t, KindAuthentication, kindOf(t, err))

	err = svc.AddOwner("pkg1", "nosuchuser", bob)
	assert.Equal(t, KindNotFound, kindOf(t, err))

	err = svc.AddOwner("nosuchpkg", "carol", bob)
	assert.Equal(t, KindNotFound, kindOf(t, err))

	err = svc.RemoveOwner("pkg1", "eve", bob)
	assert.Equal(t, KindConflict, kindOf(t, err), "target is not an owner")
}

func TestRemoveOwner_LastOwnerAlwaysFails(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)

	err := svc.RemoveOwner("pkg1", "bob", bob)
	assert.Equal(t, KindConflict, kindOf(t, err))

	pkg, lookupErr := svc.Store().PackageByName("pkg1")
	require.NoError(t, lookupErr)
	owners, lookupErr := svc.Store().Owners(pkg.ID)
	require.NoError(t, lookupErr)
	assert.Len(t, owners, 1)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)
	newUser(t, svc, "bob")

	user, err := svc.Authenticate("bob", digest("secret-bob"))
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Name)

	_, err = svc.Authenticate("bob", digest("wrong"))
	assert.Equal(t, KindAuthentication, kindOf(t, err))

	_, err = svc.Authenticate("nosuch", digest("secret"))
	assert.Equal(t, KindAuthentication, kindOf(t, err))
}

func TestCreateUser_Validation(t *testing.T) {
	svc := newTestService(t)
	newUser(t, svc, "bob")

	_, err := svc.CreateUser("bob", "d", "s", "e@example.org")
	assert.Equal(t, KindConflict, kindOf(t, err))

	_, err = svc.CreateUser("", "d", "s", "e@example.org")
	assert.Equal(t, KindValidation, kindOf(t, err))

	_, err = svc.CreateUser("new", "", "s", "e@example.org")
	assert.Equal(t, KindValidation, kindOf(t, err))
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")

	require.NoError(t, svc.ChangePassword(bob, digest("new-secret")))
	_, err := svc.Authenticate("bob", digest("new-secret"))
	require.NoError(t, err)
	_, err = svc.Authenticate("bob", digest("secret-bob"))
	assert.Equal(t, KindAuthentication, kindOf(t, err))
}

func TestPasswordReset_Flow(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")

	err := svc.InitPasswordReset(bob, "wrong@example.org")
	assert.Equal(t, KindAuthentication, kindOf(t, err))

	require.NoError(t, svc.InitPasswordReset(bob, "bob@example.org"))
	token, err := svc.Store().LatestResetToken(bob.ID)
	require.NoError(t, err)
	require.NotNil(t, token)

	err = svc.ResetPassword(bob, "bogus-token", digest("new"))
	assert.Equal(t, KindAuthentication, kindOf(t, err))

	require.NoError(t, svc.ResetPassword(bob, token.Hash, digest("new")))
	_, err = svc.Authenticate("bob", digest("new"))
	require.NoError(t, err)

	// The token is consumed on success.
	gone, err := svc.Store().LatestResetToken(bob.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPasswordReset_ExpiredToken(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")

	token := &ResetToken{UserID: bob.ID, Hash: "stale", CreateTime: time.Now().Add(-25 * time.Hour)}
	require.NoError(t, svc.db.Create(token).Error)

	err := svc.ResetPassword(bob, "stale", digest("new"))
	assert.Equal(t, KindAuthentication, kindOf(t, err))
}

func TestUpdatedAndRemovedSince(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	cutoff := time.Now().Add(-time.Minute)

	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	publish(t, svc, desc("pkg2", "1.0", "alice"), bob, false)
	_, err := svc.Unpublish("pkg2", "", bob)
	require.NoError(t, err)

	updated, err := svc.Store().PackagesUpdatedSince(cutoff)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "pkg1", updated[0].Name)

	removed, err := svc.Store().RemovedPackagesSince(cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg2"}, removed)

	// Nothing before the cutoff.
	future := time.Now().Add(time.Minute)
	updated, err = svc.Store().PackagesUpdatedSince(future)
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestRebuildIndex(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	publish(t, svc, desc("pkg2", "1.0", "alice"), bob, false)

	// Wreck the index, then rebuild.
	require.NoError(t, svc.idx.Clear())
	res, err := svc.Search("pkg1", 10, 0)
	require.NoError(t, err)
	require.Zero(t, res.Total)

	require.NoError(t, svc.RebuildIndex())
	res, err = svc.Search("pkg1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	res, err = svc.Search("", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestSerializePackage(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")
	d := desc("pkg1", "1.0", "alice")
	d.Description = "first release"
	d.Keywords = []string{"kw1"}
	publish(t, svc, d, bob, false)
	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)

	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	view, err := svc.SerializePackage(pkg)
	require.NoError(t, err)

	assert.Equal(t, "pkg1", view.Name)
	assert.Equal(t, "2.0", view.Version, "package view renders the latest version")
	assert.Equal(t, "2.0", view.Latest)
	require.Len(t, view.Versions, 2)
	assert.Equal(t, "2.0", view.Versions[0].Version, "versions sorted descending")
	assert.Equal(t, "1.0", view.Versions[1].Version)
	assert.Equal(t, "first release", view.Versions[1].Description)
	require.Len(t, view.Owners, 1)
	assert.Equal(t, "bob", view.Owners[0].Name)
	require.NotNil(t, view.Author)
	assert.Equal(t, "alice", view.Author.Name)
}

// The full publish-then-unpublish lifecycle in one pass: a fresh package,
// a second version taking over as latest, and its removal restoring the
// previous latest.
func TestPublishUnpublishLifecycle(t *testing.T) {
	svc := newTestService(t)
	bob := newUser(t, svc, "bob")

	publish(t, svc, desc("pkg1", "1.0", "alice"), bob, false)
	pkg, err := svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	owners, err := svc.Store().Owners(pkg.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "bob", owners[0].Name)

	publish(t, svc, desc("pkg1", "2.0", "alice"), bob, false)
	versions, err := svc.Store().Versions(pkg.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	pkg, err = svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	latest, err := svc.Store().VersionByID(*pkg.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "2.0", latest.Version)

	_, err = svc.Unpublish("pkg1", "2.0", bob)
	require.NoError(t, err)
	pkg, err = svc.Store().PackageByName("pkg1")
	require.NoError(t, err)
	versions, err = svc.Store().Versions(pkg.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	latest, err = svc.Store().VersionByID(*pkg.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "1.0", latest.Version)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := &Error{Kind: KindStorage, Message: "disk gone", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk gone")
}

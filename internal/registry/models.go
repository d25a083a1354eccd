package registry

import (
	"time"
)

// Author roles on a package relation.
const (
	RoleContributor = "contributor"
	RoleMaintainer  = "maintainer"
)

// Audit log entry types.
const (
	LogTypeAdd    = "add"
	LogTypeUpdate = "update"
	LogTypeDelete = "delete"
)

// resetTokenTTL is how long a password reset token stays valid, evaluated
// lazily at check time.
const resetTokenTTL = 24 * time.Hour

// Package is a named software package. A package exists only together with
// at least one version; it is created with its first version and removed
// with its last.
type Package struct {
	ID              uint       `gorm:"primaryKey;column:id"`
	Name            string     `gorm:"column:name;size:255;uniqueIndex;not null"`
	Descriptor      string     `gorm:"column:descriptor;type:text"`
	AuthorID        *uint      `gorm:"column:author_id"`
	Author          *Author    `gorm:"foreignKey:AuthorID"`
	LatestVersionID *uint      `gorm:"column:latest_version_id"`
	CreatorID       uint       `gorm:"column:creator_id"`
	ModifierID      uint       `gorm:"column:modifier_id"`
	CreateTime      time.Time  `gorm:"column:createtime;autoCreateTime"`
	ModifyTime      time.Time  `gorm:"column:modifytime;index"`
}

// TableName returns the GORM table name.
func (Package) TableName() string { return "packages" }

// Version is one published release of a package, unique per (package,
// version string). The stored descriptor is the normalized JSON text
// uploaded at publish time.
type Version struct {
	ID         uint      `gorm:"primaryKey;column:id"`
	PackageID  uint      `gorm:"column:package_id;uniqueIndex:idx_version_pkg_vsn,priority:1;not null"`
	Version    string    `gorm:"column:version;size:30;uniqueIndex:idx_version_pkg_vsn,priority:2;not null"`
	Descriptor string    `gorm:"column:descriptor;type:text"`
	Filename   string    `gorm:"column:filename;size:100"`
	Filesize   int64     `gorm:"column:filesize"`
	MD5        string    `gorm:"column:md5;size:100"`
	SHA1       string    `gorm:"column:sha1;size:100"`
	SHA256     string    `gorm:"column:sha256;size:100"`
	CreatorID  uint      `gorm:"column:creator_id"`
	ModifierID uint      `gorm:"column:modifier_id"`
	CreateTime time.Time `gorm:"column:createtime;autoCreateTime"`
	ModifyTime time.Time `gorm:"column:modifytime"`
}

// TableName returns the GORM table name.
func (Version) TableName() string { return "versions" }

// Author is a person credited on a package. Identity is the (name, email)
// pair; the same name with a different email is a distinct author. An empty
// email means none was given. Authors are created lazily and never deleted
// by the publish flows.
type Author struct {
	ID         uint      `gorm:"primaryKey;column:id"`
	Name       string    `gorm:"column:name;size:100;uniqueIndex:idx_author_name_email,priority:1;not null"`
	Email      string    `gorm:"column:email;size:100;uniqueIndex:idx_author_name_email,priority:2"`
	Web        string    `gorm:"column:web;size:255"`
	CreateTime time.Time `gorm:"column:createtime;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Author) TableName() string { return "authors" }

// User is the authenticated actor for all mutating operations. Password is
// the base64 digest the client computed with the stored salt.
type User struct {
	ID         uint      `gorm:"primaryKey;column:id"`
	Name       string    `gorm:"column:name;size:100;uniqueIndex;not null"`
	Password   string    `gorm:"column:password;size:255;not null"`
	Salt       string    `gorm:"column:salt;size:255;not null"`
	Email      string    `gorm:"column:email;size:100"`
	CreateTime time.Time `gorm:"column:createtime;autoCreateTime"`
	ModifyTime time.Time `gorm:"column:modifytime"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }

// PackageAuthor relates an author to a package in a given role. Pure join
// row; membership is reconciled wholesale against the descriptor on every
// publish.
type PackageAuthor struct {
	ID        uint   `gorm:"primaryKey;column:id"`
	PackageID uint   `gorm:"column:package_id;uniqueIndex:idx_pkg_author_role,priority:1;not null"`
	AuthorID  uint   `gorm:"column:author_id;uniqueIndex:idx_pkg_author_role,priority:2;not null"`
	Role      string `gorm:"column:role;size:20;uniqueIndex:idx_pkg_author_role,priority:3;not null"`
}

// TableName returns the GORM table name.
func (PackageAuthor) TableName() string { return "package_authors" }

// PackageOwner relates a user to a package as an owner. Every package has
// at least one owner at all times; the initial publisher is the first.
type PackageOwner struct {
	ID         uint      `gorm:"primaryKey;column:id"`
	PackageID  uint      `gorm:"column:package_id;uniqueIndex:idx_pkg_owner,priority:1;not null"`
	OwnerID    uint      `gorm:"column:owner_id;uniqueIndex:idx_pkg_owner,priority:2;not null"`
	CreatorID  uint      `gorm:"column:creator_id"`
	CreateTime time.Time `gorm:"column:createtime;autoCreateTime"`
}

// TableName returns the GORM table name.
func (PackageOwner) TableName() string { return "package_owners" }

// LogEntry is an append-only audit record of add/update/delete events. A
// nil version string means the event covers the whole package.
type LogEntry struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Type        string    `gorm:"column:type;size:10;index;not null"`
	PackageName string    `gorm:"column:packagename;size:255;index;not null"`
	VersionStr  *string   `gorm:"column:versionstr;size:30"`
	UserID      uint      `gorm:"column:user_id"`
	CreateTime  time.Time `gorm:"column:createtime;index;autoCreateTime"`
}

// TableName returns the GORM table name.
func (LogEntry) TableName() string { return "log_entries" }

// ResetToken is a single-use password reset token, valid for 24 hours from
// creation and consumed on successful use.
type ResetToken struct {
	ID         uint      `gorm:"primaryKey;column:id"`
	Hash       string    `gorm:"column:hash;size:255;not null"`
	UserID     uint      `gorm:"column:user_id;index;not null"`
	CreateTime time.Time `gorm:"column:createtime;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ResetToken) TableName() string { return "reset_tokens" }

// Valid reports whether the token belongs to the user, matches the
// presented hash and is younger than the validity window.
func (t *ResetToken) Valid(user *User, presented string, now time.Time) bool {
	return now.Sub(t.CreateTime) < resetTokenTTL &&
		t.UserID == user.ID &&
		t.Hash == presented
}

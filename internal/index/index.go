// Package index provides the package search index: full-document upserts
// keyed by package identity, and relevance-ranked paginated queries.
package index

import (
	"time"

	"gorm.io/gorm"
)

// Document is the denormalized search view of a package, rebuilt from its
// current latest version, keywords and author names on every upsert.
type Document struct {
	PackageID   uint
	Name        string
	Description string
	Keywords    []string
	Authors     []string
	ModifyTime  time.Time
}

// Result is a page of ranked search hits. IDs are package identities in
// rank order.
type Result struct {
	Total  int
	Offset int
	Length int
	IDs    []uint
}

// Index is the search index contract the publish and unpublish flows depend
// on: an upsert reflects a package's current state, a remove follows full
// package deletion, and Clear supports an out-of-band full rebuild.
type Index interface {
	Upsert(doc *Document) error
	Remove(packageID uint) error
	Clear() error
	Search(query string, limit, offset int) (*Result, error)
}

// TxBinder is implemented by indexes living in the relational store, which
// can join an open database transaction so index writes commit or roll back
// together with the rows they reflect.
type TxBinder interface {
	WithDB(tx *gorm.DB) Index
}

package index

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPageSize = 20

// Boost factors applied per matched field.
const (
	nameBoost    = 2.0
	ngramBoost   = 1.0
	keywordBoost = 1.5
	textBoost    = 1.0
)

// searchDocument is the stored form of a Document. Token fields are
// space-joined lowercase terms; the n-gram field carries 3- to 5-grams of
// the name to support substring and fuzzy matches.
type searchDocument struct {
	PackageID   uint      `gorm:"primaryKey;column:package_id"`
	Name        string    `gorm:"column:name;not null"`
	NameNGrams  string    `gorm:"column:name_ngrams;type:text"`
	Description string    `gorm:"column:description;type:text"`
	Keywords    string    `gorm:"column:keywords;type:text"`
	Authors     string    `gorm:"column:authors;type:text"`
	ModifyTime  time.Time `gorm:"column:modifytime;index"`
}

// TableName returns the GORM table name.
func (searchDocument) TableName() string { return "search_documents" }

// SQLIndex is an Index backed by the relational store. Scoring happens in
// process over the candidate rows; at registry scale the document set is
// small enough that ranked retrieval does not need an external engine.
type SQLIndex struct {
	db *gorm.DB
}

// NewSQLIndex creates a SQLIndex on the given database.
func NewSQLIndex(db *gorm.DB) *SQLIndex {
	return &SQLIndex{db: db}
}

// AutoMigrate creates or updates the search document table.
func (i *SQLIndex) AutoMigrate() error {
	if err := i.db.AutoMigrate(&searchDocument{}); err != nil {
		return fmt.Errorf("auto-migrate search_documents: %w", err)
	}
	return nil
}

// WithDB returns an index bound to the given handle, used to join the index
// write into an open transaction.
func (i *SQLIndex) WithDB(db *gorm.DB) Index {
	return &SQLIndex{db: db}
}

// Upsert stores the document, replacing any previous document of the same
// package.
func (i *SQLIndex) Upsert(doc *Document) error {
	row := &searchDocument{
		PackageID:   doc.PackageID,
		Name:        doc.Name,
		NameNGrams:  strings.Join(ngrams(strings.ToLower(doc.Name), 3, 5), " "),
		Description: strings.ToLower(doc.Description),
		Keywords:    strings.ToLower(strings.Join(doc.Keywords, " ")),
		Authors:     strings.ToLower(strings.Join(doc.Authors, " ")),
		ModifyTime:  doc.ModifyTime,
	}
	err := i.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "package_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "name_ngrams", "description", "keywords", "authors", "modifytime",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert search document %d: %w", doc.PackageID, err)
	}
	return nil
}

// Remove deletes the document of a package.
func (i *SQLIndex) Remove(packageID uint) error {
	if err := i.db.Delete(&searchDocument{}, "package_id = ?", packageID).Error; err != nil {
		return fmt.Errorf("remove search document %d: %w", packageID, err)
	}
	return nil
}

// Clear drops every document, the first step of a full rebuild.
func (i *SQLIndex) Clear() error {
	if err := i.db.Where("1 = 1").Delete(&searchDocument{}).Error; err != nil {
		return fmt.Errorf("clear search index: %w", err)
	}
	return nil
}

// Search runs a relevance-ranked query. Name matches are boosted over
// keyword matches, which are boosted over description and author matches.
// With no query text every package matches and results are ordered by
// modification time descending.
func (i *SQLIndex) Search(query string, limit, offset int) (*Result, error) {
	var rows []searchDocument
	if err := i.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load search documents: %w", err)
	}

	terms := tokenize(query)
	type scored struct {
		id    uint
		score float64
		mtime time.Time
	}
	var matches []scored
	for _, row := range rows {
		score := scoreDocument(&row, terms)
		if len(terms) > 0 && score == 0 {
			continue
		}
		matches = append(matches, scored{id: row.PackageID, score: score, mtime: row.ModifyTime})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].score != matches[b].score {
			return matches[a].score > matches[b].score
		}
		return matches[a].mtime.After(matches[b].mtime)
	})

	if limit <= 0 {
		limit = defaultPageSize
	}
	result := &Result{Total: len(matches)}
	start := min(len(matches), max(0, offset))
	end := min(start+limit, len(matches))
	result.Offset = start
	result.Length = end - start
	for _, m := range matches[start:end] {
		result.IDs = append(result.IDs, m.id)
	}
	return result, nil
}

func scoreDocument(doc *searchDocument, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	name := strings.ToLower(doc.Name)
	nameTokens := fieldSet(name)
	ngramSet := fieldSet(doc.NameNGrams)
	keywords := fieldSet(doc.Keywords)
	description := fieldSet(doc.Description)
	authors := fieldSet(doc.Authors)

	var score float64
	for _, term := range terms {
		if nameTokens[term] {
			score += nameBoost
		} else if matchesNGrams(term, ngramSet) {
			score += ngramBoost
		}
		if keywords[term] {
			score += keywordBoost
		}
		if description[term] {
			score += textBoost
		}
		if authors[term] {
			score += textBoost
		}
	}
	return score
}

// matchesNGrams reports whether every n-gram of the term occurs in the
// document's name n-gram set, approximating a substring match.
func matchesNGrams(term string, set map[string]bool) bool {
	grams := ngrams(term, 3, 5)
	if len(grams) == 0 {
		return false
	}
	for _, g := range grams {
		if !set[g] {
			return false
		}
	}
	return true
}

func fieldSet(field string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(field) {
		set[tok] = true
	}
	return set
}

// tokenize lowercases the query and splits it on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ngrams produces all n-grams of s for n in [minGram, maxGram].
func ngrams(s string, minGram, maxGram int) []string {
	runes := []rune(s)
	var grams []string
	for n := minGram; n <= maxGram; n++ {
		for i := 0; i+n <= len(runes); i++ {
			grams = append(grams, string(runes[i:i+n]))
		}
	}
	return grams
}

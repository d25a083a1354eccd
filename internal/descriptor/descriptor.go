// Package descriptor defines the package metadata document uploaded with
// every published archive, along with its normalization and validation
// rules.
package descriptor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Repository points at a source repository of a package.
type Repository struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// License names a license a package is distributed under.
type License struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Descriptor is the JSON metadata document describing a package version.
// Author entries given as free-form strings are normalized into structured
// records while decoding (see Author.UnmarshalJSON).
type Descriptor struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Author       *Author           `json:"author,omitempty"`
	Contributors []Author          `json:"contributors,omitempty"`
	Maintainers  []Author          `json:"maintainers,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Engines      map[string]string `json:"engines,omitempty"`
	Homepage     string            `json:"homepage,omitempty"`
	Implements   []string          `json:"implements,omitempty"`
	Repositories []Repository      `json:"repositories,omitempty"`
	Licenses     []License         `json:"licenses,omitempty"`
}

// Parse decodes and validates a descriptor from its JSON text. The returned
// descriptor carries the canonicalized version string.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the required descriptor fields and canonicalizes the
// version string in place. A descriptor must carry a name, a valid semantic
// version, and either an author or at least one contributor so that every
// package has a traceable responsible party.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("missing package name")
	}
	if d.Version == "" {
		return fmt.Errorf("missing version number")
	}
	version, err := CleanVersion(d.Version)
	if err != nil {
		return fmt.Errorf("invalid version number %q", d.Version)
	}
	d.Version = version
	if d.Author == nil && len(d.Contributors) == 0 {
		return fmt.Errorf("missing author or initial contributor")
	}
	return nil
}

// JSON returns the serialized form of the descriptor as stored with a
// version record.
func (d *Descriptor) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("serialize descriptor: %w", err)
	}
	return string(data), nil
}

// CleanVersion validates a semantic version string and returns its
// canonical form with any leading "v" and surrounding whitespace stripped.
func CleanVersion(s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := semver.NewVersion(s); err != nil {
		return "", fmt.Errorf("parse version %q: %w", s, err)
	}
	return strings.TrimPrefix(s, "v"), nil
}

// SortVersionsDesc sorts version strings in descending semantic version
// order. Unparsable entries sort last.
func SortVersionsDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, errA := semver.NewVersion(versions[i])
		b, errB := semver.NewVersion(versions[j])
		if errA != nil {
			return false
		}
		if errB != nil {
			return true
		}
		return a.GreaterThan(b)
	})
}

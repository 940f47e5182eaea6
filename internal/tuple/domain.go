// Package tuple implements the tuple and per-tuple effect algebra: relation
// schemas, scalar domains, tuple validation, and the effect fold operator.
package tuple

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DomainKind enumerates the scalar domains a schema column can carry.
type DomainKind int

const (
	DomainBool DomainKind = iota
	DomainInt
	DomainString
	DomainDateTime
	DomainUUID
	DomainSet // a finite set of one of the above domains
)

// Domain describes one column of a relation schema.
type Domain struct {
	Kind       DomainKind
	MaxLen     int     // meaningful for DomainString
	Of         *Domain // meaningful for DomainSet: the element domain
	Nullable   bool
}

// Matches reports whether v is a legal value for this domain.
func (d Domain) Matches(v any) bool {
	if v == nil {
		return d.Nullable
	}
	switch d.Kind {
	case DomainBool:
		_, ok := v.(bool)
		return ok
	case DomainInt:
		_, ok := v.(int64)
		return ok
	case DomainString:
		s, ok := v.(string)
		return ok && (d.MaxLen == 0 || len(s) <= d.MaxLen)
	case DomainDateTime:
		_, ok := v.(time.Time)
		return ok
	case DomainUUID:
		_, ok := v.(uuid.UUID)
		return ok
	case DomainSet:
		set, ok := v.(map[any]struct{})
		if !ok || d.Of == nil {
			return false
		}
		for elem := range set {
			if !d.Of.Matches(elem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Schema is an ordered sequence of domains.
type Schema []Domain

// Matches reports whether scalars match this schema: same length, each
// scalar in the corresponding domain.
func (s Schema) Matches(scalars []any) bool {
	if len(scalars) != len(s) {
		return false
	}
	for i, d := range s {
		if !d.Matches(scalars[i]) {
			return false
		}
	}
	return true
}

// RelationVersion is one version of a Relation: a schema, and, for every
// version after the first, a migration identifier.
type RelationVersion struct {
	Number    int
	Schema    Schema
	Migration string // empty for version 0
}

// Relation is a numbered entity carrying an ordered list of versions.
// Version numbers must strictly increment from 0.
type Relation struct {
	Number   int
	Versions []RelationVersion
}

// LatestSchema returns the schema of the most recent version.
func (r *Relation) LatestSchema() Schema {
	if len(r.Versions) == 0 {
		return nil
	}
	return r.Versions[len(r.Versions)-1].Schema
}

// AddVersion appends a new version, enforcing the strictly-incrementing
// invariant.
func (r *Relation) AddVersion(rv RelationVersion) error {
	want := 0
	if len(r.Versions) > 0 {
		want = r.Versions[len(r.Versions)-1].Number + 1
	}
	if rv.Number != want {
		return fmt.Errorf("tuple: relation %d version numbers must increment from 0, got %d want %d", r.Number, rv.Number, want)
	}
	r.Versions = append(r.Versions, rv)
	return nil
}

package pipeline

import (
	"context"
	"errors"

	"github.com/campusbridge/cutover/pkg/models"
)

// ErrNotFound is returned by lookups that resolve nothing.
var ErrNotFound = errors.New("not found")

// SourceStore is the document-store surface the pipeline reads from and,
// for schema migration and attachment reference rewriting, writes back to.
type SourceStore interface {
	// EnumerateCollection streams every document matching filter. A nil
	// filter matches everything. fn errors abort the enumeration.
	EnumerateCollection(ctx context.Context, collection string, filter map[string]interface{}, fn func(doc map[string]interface{}) error) error
	// UpdateByID sets and unsets fields on one document in a single call,
	// so renames never leave both representations behind.
	UpdateByID(ctx context.Context, collection string, id interface{}, set map[string]interface{}, unset []string) error
	// Count counts documents matching filter; nil counts the collection.
	// Absent collections count as zero.
	Count(ctx context.Context, collection string, filter map[string]interface{}) (int64, error)
	// RenameCollection atomically renames a collection. Used for archival
	// only; source data is never dropped.
	RenameCollection(ctx context.Context, from, to string) error

	// LoadSubjects adapts every document in a person collection into the
	// normalized Subject type.
	LoadSubjects(ctx context.Context, collection string) ([]models.Subject, error)
	// SetSubjectField writes one field (e.g. a canonical attachment key)
	// back onto a subject document.
	SetSubjectField(ctx context.Context, collection, sourceID, field string, value interface{}) error

	// LoadRelationships adapts every document in a relationship collection.
	// Identifiers are in the source identity space.
	LoadRelationships(ctx context.Context, collection string) ([]models.Relationship, error)
	// DeactivateRelationships marks every active relationship for the given
	// subject inactive with the superseded reason. Returns how many changed.
	DeactivateRelationships(ctx context.Context, collection, subjectSourceID string) (int64, error)
	// InsertRelationship inserts a new relationship document.
	InsertRelationship(ctx context.Context, collection string, rel models.Relationship) error
	// ActiveRelationshipCounts returns active-record counts per subject id.
	ActiveRelationshipCounts(ctx context.Context, collection string) (map[string]int, error)
}

// TargetStore is the relational-store surface. All writes flow through it;
// the reconciler's supersede-then-insert runs inside a single transaction.
type TargetStore interface {
	// LoadSubjects returns every target subject for index building.
	LoadSubjects(ctx context.Context) ([]models.Subject, error)
	// InsertSubject creates a subject row with its generated identifier and
	// hashed temporary credential.
	InsertSubject(ctx context.Context, s models.Subject, credentialHash string) error
	// UpdateSubject overwrites the mutable fields of the row identified by
	// s.TargetID with source data. Used only for forced re-syncs.
	UpdateSubject(ctx context.Context, s models.Subject) error
	// SubjectExists reports whether a target identifier resolves to a row.
	SubjectExists(ctx context.Context, targetID string) (bool, error)
	// CountTable counts rows in a configured entity table.
	CountTable(ctx context.Context, table string) (int64, error)
	// CountSubjects counts subject rows, narrowed to a role when non-empty.
	CountSubjects(ctx context.Context, role string) (int64, error)

	// ActiveRelationship returns the single active relationship for a
	// subject, or ErrNotFound.
	ActiveRelationship(ctx context.Context, subjectID string) (models.Relationship, error)
	// SupersedeAndInsert deactivates every active relationship for
	// rel.SubjectID and inserts rel as active, in one transaction.
	SupersedeAndInsert(ctx context.Context, rel models.Relationship) error
	// ActiveRelationshipCounts returns active-record counts per subject id.
	ActiveRelationshipCounts(ctx context.Context) (map[string]int, error)
}

// ObjectStore is the key-addressed storage surface for attachments.
type ObjectStore interface {
	// EnsureBucket creates the bucket on first use.
	EnsureBucket(ctx context.Context) error
	// Stat returns the stored size for a key, or ErrNotFound.
	Stat(ctx context.Context, key string) (int64, error)
	// Upload stores a local file under key.
	Upload(ctx context.Context, key, localPath string) error
	// List returns the keys under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

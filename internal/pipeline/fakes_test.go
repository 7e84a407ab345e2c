package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/campusbridge/cutover/pkg/models"
)

// fakeSource is an in-memory SourceStore. Raw documents back the transform
// tests; typed subjects and relationships back everything else.
type fakeSource struct {
	docs     map[string][]map[string]interface{}
	subjects map[string][]models.Subject
	rels     map[string][]models.Relationship

	refWrites map[string]interface{} // "coll/sourceID.field" -> value

	failUpdateID interface{} // UpdateByID fails for this _id
	renames      [][2]string
	updateCalls  int
	enumerateErr error
	setFieldErr  error
	insertRelErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:      make(map[string][]map[string]interface{}),
		subjects:  make(map[string][]models.Subject),
		rels:      make(map[string][]models.Relationship),
		refWrites: make(map[string]interface{}),
	}
}

func matchesFilter(doc map[string]interface{}, filter map[string]interface{}) bool {
	for field, cond := range filter {
		if m, ok := cond.(map[string]interface{}); ok {
			if wantExists, ok := m["$exists"].(bool); ok {
				_, has := doc[field]
				if has != wantExists {
					return false
				}
				continue
			}
		}
		if doc[field] != cond {
			return false
		}
	}
	return true
}

func (f *fakeSource) EnumerateCollection(_ context.Context, collection string, filter map[string]interface{}, fn func(doc map[string]interface{}) error) error {
	if f.enumerateErr != nil {
		return f.enumerateErr
	}
	for _, doc := range f.docs[collection] {
		if filter != nil && !matchesFilter(doc, filter) {
			continue
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) UpdateByID(_ context.Context, collection string, id interface{}, set map[string]interface{}, unset []string) error {
	f.updateCalls++
	if f.failUpdateID != nil && id == f.failUpdateID {
		return fmt.Errorf("update %v: simulated failure", id)
	}
	for _, doc := range f.docs[collection] {
		if doc["_id"] == id {
			for k, v := range set {
				doc[k] = v
			}
			for _, k := range unset {
				delete(doc, k)
			}
			return nil
		}
	}
	return fmt.Errorf("document %v: %w", id, ErrNotFound)
}

func (f *fakeSource) Count(_ context.Context, collection string, filter map[string]interface{}) (int64, error) {
	if docs, ok := f.docs[collection]; ok {
		n := int64(0)
		for _, doc := range docs {
			if filter == nil || matchesFilter(doc, filter) {
				n++
			}
		}
		return n, nil
	}
	if subs, ok := f.subjects[collection]; ok {
		return int64(len(subs)), nil
	}
	if rels, ok := f.rels[collection]; ok {
		return int64(len(rels)), nil
	}
	return 0, nil
}

func (f *fakeSource) RenameCollection(_ context.Context, from, to string) error {
	f.renames = append(f.renames, [2]string{from, to})
	f.docs[to] = f.docs[from]
	delete(f.docs, from)
	return nil
}

func (f *fakeSource) LoadSubjects(_ context.Context, collection string) ([]models.Subject, error) {
	return f.subjects[collection], nil
}

func (f *fakeSource) SetSubjectField(_ context.Context, collection, sourceID, field string, value interface{}) error {
	if f.setFieldErr != nil {
		return f.setFieldErr
	}
	f.refWrites[collection+"/"+sourceID+"."+field] = value
	return nil
}

func (f *fakeSource) LoadRelationships(_ context.Context, collection string) ([]models.Relationship, error) {
	return f.rels[collection], nil
}

func (f *fakeSource) DeactivateRelationships(_ context.Context, collection, subjectSourceID string) (int64, error) {
	var n int64
	now := time.Now()
	rels := f.rels[collection]
	for i := range rels {
		if rels[i].SubjectID == subjectSourceID && rels[i].IsActive {
			rels[i].IsActive = false
			rels[i].DeactivatedAt = &now
			rels[i].DeactivationReason = models.DeactivationSuperseded
			n++
		}
	}
	return n, nil
}

func (f *fakeSource) InsertRelationship(_ context.Context, collection string, rel models.Relationship) error {
	if f.insertRelErr != nil {
		return f.insertRelErr
	}
	f.rels[collection] = append(f.rels[collection], rel)
	return nil
}

func (f *fakeSource) ActiveRelationshipCounts(_ context.Context, collection string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, rel := range f.rels[collection] {
		if rel.IsActive {
			counts[rel.SubjectID]++
		}
	}
	return counts, nil
}

// fakeTarget is an in-memory TargetStore.
type fakeTarget struct {
	mu       sync.Mutex
	subjects []models.Subject
	creds    map[string]string
	rels     []models.Relationship

	failInsertSubject bool
	// failInsertAfterSupersede makes SupersedeAndInsert deactivate and then
	// fail, reproducing the partial state the analyzer must catch.
	failInsertAfterSupersede bool
	inserts                  int
	updates                  int
}

func newFakeTarget(subjects ...models.Subject) *fakeTarget {
	return &fakeTarget{subjects: subjects, creds: make(map[string]string)}
}

func (f *fakeTarget) LoadSubjects(_ context.Context) ([]models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Subject, len(f.subjects))
	copy(out, f.subjects)
	return out, nil
}

func (f *fakeTarget) InsertSubject(_ context.Context, s models.Subject, credentialHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertSubject {
		return fmt.Errorf("insert subject %s: simulated failure", s.TargetID)
	}
	f.subjects = append(f.subjects, s)
	f.creds[s.TargetID] = credentialHash
	f.inserts++
	return nil
}

func (f *fakeTarget) UpdateSubject(_ context.Context, s models.Subject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subjects {
		if f.subjects[i].TargetID == s.TargetID {
			f.subjects[i] = s
			f.updates++
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeTarget) SubjectExists(_ context.Context, targetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subjects {
		if s.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTarget) CountTable(_ context.Context, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch table {
	case "mentorships":
		return int64(len(f.rels)), nil
	default:
		return int64(len(f.subjects)), nil
	}
}

func (f *fakeTarget) CountSubjects(_ context.Context, role string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if role == "" {
		return int64(len(f.subjects)), nil
	}
	var n int64
	for _, s := range f.subjects {
		if string(s.Role) == role {
			n++
		}
	}
	return n, nil
}

func (f *fakeTarget) ActiveRelationship(_ context.Context, subjectID string) (models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rel := range f.rels {
		if rel.SubjectID == subjectID && rel.IsActive {
			return rel, nil
		}
	}
	return models.Relationship{}, ErrNotFound
}

func (f *fakeTarget) SupersedeAndInsert(_ context.Context, rel models.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.rels {
		if f.rels[i].SubjectID == rel.SubjectID && f.rels[i].IsActive {
			f.rels[i].IsActive = false
			f.rels[i].DeactivatedAt = &now
			f.rels[i].DeactivationReason = models.DeactivationSuperseded
		}
	}
	if f.failInsertAfterSupersede {
		return fmt.Errorf("insert after supersede: simulated failure")
	}
	rel.IsActive = true
	f.rels = append(f.rels, rel)
	return nil
}

func (f *fakeTarget) ActiveRelationshipCounts(_ context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, rel := range f.rels {
		if rel.IsActive {
			counts[rel.SubjectID]++
		}
	}
	return counts, nil
}

// fakeObject is an in-memory ObjectStore keyed by canonical key.
type fakeObject struct {
	mu      sync.Mutex
	ensured bool
	objects map[string]int64
	uploads []string
	failPut error
}

func newFakeObject() *fakeObject {
	return &fakeObject{objects: make(map[string]int64)}
}

func (f *fakeObject) EnsureBucket(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = true
	return nil
}

func (f *fakeObject) Stat(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.objects[key]
	if !ok {
		return 0, ErrNotFound
	}
	return size, nil
}

func (f *fakeObject) Upload(_ context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return f.failPut
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	f.objects[key] = info.Size()
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeObject) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

package models

import (
	"encoding/json"
	"fmt"
)

// Plan is the root of the pipeline plan file. It carries the static
// configuration data every stage consumes: field-specs for the schema
// transformer, collections due for archival, filename-pattern tables for the
// attachment relocator, and the entity pairs the discrepancy analyzer
// compares.
type Plan struct {
	Version              string                 `json:"version"`
	SubjectCollections   []string               `json:"subjectCollections"`
	MentorshipCollection string                 `json:"mentorshipCollection"`
	FieldSpecs           []FieldSpec            `json:"fieldSpecs"`
	ArchiveCollections   []string               `json:"archiveCollections"`
	Patterns             map[string]PatternSpec `json:"patterns"`
	EntityPairs          []EntityPair           `json:"entityPairs"`
	Workers              int                    `json:"workers"`
	RetryAttempts        int                    `json:"retryAttempts"`
}

// FieldOp is the kind of mutation a FieldSpec applies.
type FieldOp string

const (
	OpSetDefault FieldOp = "setDefault"
	OpRename     FieldOp = "rename"
	OpDerive     FieldOp = "derive"
)

// FieldSpec is one declarative schema migration rule. The predicate is
// implied by the op: setDefault and derive apply only where Field is absent,
// rename applies only where Field is still present. Reapplying a spec to an
// already-migrated record is therefore a no-op.
type FieldSpec struct {
	Collection string      `json:"collection"`
	Field      string      `json:"field"`
	Op         FieldOp     `json:"op"`
	Default    interface{} `json:"default,omitempty"`
	RenameTo   string      `json:"renameTo,omitempty"`
	DeriveFrom string      `json:"deriveFrom,omitempty"`
}

// KeyKind selects how a parsed filename key resolves to a subject.
type KeyKind string

const (
	KeyRollNumber KeyKind = "roll"
	KeySubjectID  KeyKind = "subjectId"
)

// PatternSpec describes the legacy filename convention inside one folder of
// the attachment hierarchy. Filenames are expected as <key>_<kind>.<ext>.
type PatternSpec struct {
	Kind     string  `json:"kind"`     // attachment kind, e.g. "profile", "resume"
	KeyField KeyKind `json:"keyField"` // how <key> resolves to a subject
	RefField string  `json:"refField"` // source-store field to rewrite, e.g. "profileImageKey"
}

// Lifecycle classifies whether an entity keeps growing in the source after
// cutover. Growing entities legitimately show positive deltas.
type Lifecycle string

const (
	LifecycleStatic  Lifecycle = "static"
	LifecycleGrowing Lifecycle = "growing"
)

// EntityKind selects the deep analysis the analyzer runs on a nonzero delta.
type EntityKind string

const (
	EntitySubject      EntityKind = "subject"
	EntityRelationship EntityKind = "relationship"
)

// EntityPair names one source collection / target table comparison for the
// discrepancy analyzer.
type EntityPair struct {
	Name             string     `json:"name"`
	Kind             EntityKind `json:"kind"`
	SourceCollection string     `json:"sourceCollection"`
	TargetTable      string     `json:"targetTable"`
	// TargetRole narrows subject counts to one role, since every person
	// role shares the target subjects table.
	TargetRole string    `json:"targetRole,omitempty"`
	Lifecycle  Lifecycle `json:"lifecycle"`
}

// LoadPlan parses a plan document and validates it before any stage runs.
func LoadPlan(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects plans that would fail mid-run: unknown ops, specs missing
// the fields their op requires, patterns without a kind.
func (p *Plan) Validate() error {
	seen := make(map[string]bool)
	for i, fs := range p.FieldSpecs {
		if fs.Collection == "" || fs.Field == "" {
			return fmt.Errorf("fieldSpec %d: collection and field are required", i)
		}
		switch fs.Op {
		case OpSetDefault:
			if fs.Default == nil {
				return fmt.Errorf("fieldSpec %d (%s.%s): setDefault requires a default", i, fs.Collection, fs.Field)
			}
		case OpRename:
			if fs.RenameTo == "" {
				return fmt.Errorf("fieldSpec %d (%s.%s): rename requires renameTo", i, fs.Collection, fs.Field)
			}
		case OpDerive:
			if fs.DeriveFrom == "" {
				return fmt.Errorf("fieldSpec %d (%s.%s): derive requires deriveFrom", i, fs.Collection, fs.Field)
			}
		default:
			return fmt.Errorf("fieldSpec %d (%s.%s): unknown op %q", i, fs.Collection, fs.Field, fs.Op)
		}
		key := fs.Collection + "." + fs.Field + ":" + string(fs.Op)
		if seen[key] {
			return fmt.Errorf("duplicate fieldSpec for %s.%s op %s", fs.Collection, fs.Field, fs.Op)
		}
		seen[key] = true
	}
	for folder, pat := range p.Patterns {
		if pat.Kind == "" {
			return fmt.Errorf("pattern %q: kind is required", folder)
		}
		if pat.KeyField != KeyRollNumber && pat.KeyField != KeySubjectID {
			return fmt.Errorf("pattern %q: unknown keyField %q", folder, pat.KeyField)
		}
		if pat.RefField == "" {
			return fmt.Errorf("pattern %q: refField is required", folder)
		}
	}
	for i, ep := range p.EntityPairs {
		if ep.SourceCollection == "" || ep.TargetTable == "" {
			return fmt.Errorf("entityPair %d (%s): sourceCollection and targetTable are required", i, ep.Name)
		}
		if ep.Lifecycle != LifecycleStatic && ep.Lifecycle != LifecycleGrowing {
			return fmt.Errorf("entityPair %d (%s): unknown lifecycle %q", i, ep.Name, ep.Lifecycle)
		}
		if ep.Kind != EntitySubject && ep.Kind != EntityRelationship {
			return fmt.Errorf("entityPair %d (%s): unknown kind %q", i, ep.Name, ep.Kind)
		}
	}
	if p.Workers < 0 || p.RetryAttempts < 0 {
		return fmt.Errorf("workers and retryAttempts must be non-negative")
	}
	return nil
}

// WorkerLimit returns the configured upload parallelism, defaulting to 4.
func (p *Plan) WorkerLimit() int {
	if p.Workers <= 0 {
		return 4
	}
	return p.Workers
}

// Retries returns the configured per-call retry attempts, defaulting to 3.
func (p *Plan) Retries() int {
	if p.RetryAttempts <= 0 {
		return 3
	}
	return p.RetryAttempts
}

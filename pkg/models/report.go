package models

import "time"

// StageReport carries the per-stage counters every batch pass produces.
type StageReport struct {
	Stage    string        `json:"stage"`
	Scanned  int           `json:"scanned"`
	Migrated int           `json:"migrated"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Findings []Finding     `json:"findings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// FindingKind classifies a per-record condition that needs human attention.
type FindingKind string

const (
	FindingAmbiguousMatch   FindingKind = "ambiguous_match"
	FindingUnresolvedRef    FindingKind = "unresolved_reference"
	FindingRecordError      FindingKind = "record_error"
	FindingDuplicateNatural FindingKind = "duplicate_natural_key"
)

// Finding is a single auditable per-record outcome. Findings are never
// auto-resolved; they are the report's answer to "what did the pipeline
// refuse to guess about".
type Finding struct {
	Kind    FindingKind `json:"kind"`
	Subject string      `json:"subject,omitempty"` // source id, roll, or filename
	Detail  string      `json:"detail"`
}

// AddFinding appends a finding and bumps the matching counter.
func (r *StageReport) AddFinding(kind FindingKind, subject, detail string) {
	r.Findings = append(r.Findings, Finding{Kind: kind, Subject: subject, Detail: detail})
	switch kind {
	case FindingRecordError:
		r.Errors++
	default:
		r.Skipped++
	}
}

// RunReport aggregates one pipeline invocation.
type RunReport struct {
	StartedAt time.Time     `json:"startedAt"`
	DryRun    bool          `json:"dryRun"`
	Stages    []StageReport `json:"stages"`
}

// DeltaCause classifies a count discrepancy between the stores.
type DeltaCause string

const (
	CauseDuplicateNaturalKey DeltaCause = "duplicate_natural_key"
	CauseUnsyncedSubject     DeltaCause = "unsynced_subject"
	CauseOrphanReference     DeltaCause = "orphan_reference"
	CausePostCutoverGrowth   DeltaCause = "post_cutover_growth"
	CauseUnknown             DeltaCause = "unknown"
)

// Discrepancy is one entity-type delta between the stores, with its
// classified cause. Derived on demand, never persisted.
type Discrepancy struct {
	Entity      string     `json:"entity"`
	SourceCount int64      `json:"sourceCount"`
	TargetCount int64      `json:"targetCount"`
	Delta       int64      `json:"delta"`
	Cause       DeltaCause `json:"cause"`
	Detail      string     `json:"detail,omitempty"`
	// Identity-level evidence backing the classification.
	UnmatchedKeys []string `json:"unmatchedKeys,omitempty"`
	DuplicateKeys []string `json:"duplicateKeys,omitempty"`
	OrphanRefs    []string `json:"orphanRefs,omitempty"`
}

// InvariantViolation records a subject found with an illegal active
// relationship count: more than one active record in a store, or an active
// record in one store with none in the other. Reported, never auto-fixed.
type InvariantViolation struct {
	SubjectID   string `json:"subjectId"`
	ActiveCount int    `json:"activeCount"`
	Store       string `json:"store"`
	Detail      string `json:"detail,omitempty"`
}

// DiscrepancyReport is the analyzer's full output.
type DiscrepancyReport struct {
	GeneratedAt time.Time            `json:"generatedAt"`
	Entities    []Discrepancy        `json:"entities"`
	Violations  []InvariantViolation `json:"violations,omitempty"`
}

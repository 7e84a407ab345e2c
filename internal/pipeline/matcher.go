package pipeline

import (
	"fmt"

	"github.com/campusbridge/cutover/pkg/models"
)

// MatchOutcome is the result class of one natural-key match attempt.
type MatchOutcome int

const (
	// MatchNone means no target candidate exists for any natural key.
	MatchNone MatchOutcome = iota
	// MatchFound means exactly one target candidate was identified.
	MatchFound
	// MatchAmbiguous means the keys cannot identify a unique candidate.
	// Never resolved automatically; surfaced as a finding.
	MatchAmbiguous
)

// MatchResult is the outcome of matching one source subject.
type MatchResult struct {
	Outcome MatchOutcome
	Target  models.Subject
	Reason  string
}

// TargetIndex holds target subjects keyed by normalized natural keys, fully
// loaded before any matching runs.
type TargetIndex struct {
	byEmail map[string][]models.Subject
	byRoll  map[string][]models.Subject
	byName  map[string][]models.Subject
	size    int
}

// BuildTargetIndex indexes target subjects by normalized email, roll and name.
func BuildTargetIndex(subjects []models.Subject) *TargetIndex {
	idx := &TargetIndex{
		byEmail: make(map[string][]models.Subject),
		byRoll:  make(map[string][]models.Subject),
		byName:  make(map[string][]models.Subject),
		size:    len(subjects),
	}
	for _, s := range subjects {
		if e := models.NormalizeEmail(s.Email); e != "" {
			idx.byEmail[e] = append(idx.byEmail[e], s)
		}
		if r := models.NormalizeRoll(s.RollNumber); r != "" {
			idx.byRoll[r] = append(idx.byRoll[r], s)
		}
		if n := models.NormalizeName(s.Name); n != "" {
			idx.byName[n] = append(idx.byName[n], s)
		}
	}
	return idx
}

// Size returns how many subjects the index was built from.
func (idx *TargetIndex) Size() int { return idx.size }

// ByRoll returns the target subjects sharing a roll number.
func (idx *TargetIndex) ByRoll(roll string) []models.Subject {
	return idx.byRoll[models.NormalizeRoll(roll)]
}

// SourceKeys records which natural keys are duplicated within the source
// itself. A duplicated source key can never identify its owner, so matches
// through it are ambiguous by construction.
type SourceKeys struct {
	dupEmails map[string]bool
	dupRolls  map[string]bool
	dupNames  map[string]bool
}

// BuildSourceKeys scans source subjects for duplicated natural keys.
func BuildSourceKeys(subjects []models.Subject) *SourceKeys {
	emailCount := make(map[string]int)
	rollCount := make(map[string]int)
	nameCount := make(map[string]int)
	for _, s := range subjects {
		if e := models.NormalizeEmail(s.Email); e != "" {
			emailCount[e]++
		}
		if r := models.NormalizeRoll(s.RollNumber); r != "" {
			rollCount[r]++
		}
		if n := models.NormalizeName(s.Name); n != "" {
			nameCount[n]++
		}
	}
	sk := &SourceKeys{
		dupEmails: make(map[string]bool),
		dupRolls:  make(map[string]bool),
		dupNames:  make(map[string]bool),
	}
	for e, n := range emailCount {
		if n > 1 {
			sk.dupEmails[e] = true
		}
	}
	for r, n := range rollCount {
		if n > 1 {
			sk.dupRolls[r] = true
		}
	}
	for name, n := range nameCount {
		if n > 1 {
			sk.dupNames[name] = true
		}
	}
	return sk
}

// DuplicateEmails returns the normalized emails shared by more than one
// source subject.
func (sk *SourceKeys) DuplicateEmails() []string {
	out := make([]string, 0, len(sk.dupEmails))
	for e := range sk.dupEmails {
		out = append(out, e)
	}
	return out
}

// Match resolves a source subject against the target index. Matching order:
// exact case-insensitive email, then exact roll number if the email step
// failed or was ambiguous, then normalized name as a last resort. The matcher
// never guesses: duplicated source keys and multi-candidate ties both come
// back ambiguous.
func Match(src models.Subject, idx *TargetIndex, keys *SourceKeys) MatchResult {
	emailAmbiguous := false
	var emailReason string

	if src.HasEmail() {
		email := models.NormalizeEmail(src.Email)
		switch {
		case keys != nil && keys.dupEmails[email]:
			emailAmbiguous = true
			emailReason = fmt.Sprintf("email %s duplicated in source", email)
		default:
			candidates := idx.byEmail[email]
			switch len(candidates) {
			case 0:
				// fall through to roll
			case 1:
				return MatchResult{Outcome: MatchFound, Target: candidates[0]}
			default:
				emailAmbiguous = true
				emailReason = fmt.Sprintf("email %s matches %d target subjects", email, len(candidates))
			}
		}
	}

	if src.HasRoll() {
		roll := models.NormalizeRoll(src.RollNumber)
		if keys != nil && keys.dupRolls[roll] {
			return MatchResult{Outcome: MatchAmbiguous, Reason: fmt.Sprintf("roll %s duplicated in source", roll)}
		}
		candidates := idx.byRoll[roll]
		switch len(candidates) {
		case 1:
			return MatchResult{Outcome: MatchFound, Target: candidates[0]}
		default:
			if len(candidates) > 1 {
				return MatchResult{Outcome: MatchAmbiguous, Reason: fmt.Sprintf("roll %s matches %d target subjects", roll, len(candidates))}
			}
		}
	}

	if src.HasName() {
		name := models.NormalizeName(src.Name)
		candidates := idx.byName[name]
		switch {
		case len(candidates) == 0:
			// fall through
		case keys != nil && keys.dupNames[name]:
			return MatchResult{Outcome: MatchAmbiguous, Reason: fmt.Sprintf("name %q duplicated in source", name)}
		case len(candidates) == 1:
			return MatchResult{Outcome: MatchFound, Target: candidates[0]}
		default:
			return MatchResult{Outcome: MatchAmbiguous, Reason: fmt.Sprintf("name %q matches %d target subjects", name, len(candidates))}
		}
	}

	if emailAmbiguous {
		return MatchResult{Outcome: MatchAmbiguous, Reason: emailReason}
	}
	return MatchResult{Outcome: MatchNone}
}

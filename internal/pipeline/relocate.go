package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/models"
	"github.com/campusbridge/cutover/pkg/retry"
)

// Relocator walks a legacy attachment hierarchy, parses the folder-specific
// filename conventions, uploads each file to its canonical key and rewrites
// the stored reference on the owning subject. Stale and malformed legacy
// filenames are the dominant failure mode, so everything unparseable or
// unresolvable is reported, never silently dropped.
type Relocator struct {
	Source  SourceStore
	Target  TargetStore
	Objects ObjectStore
	Retry   retry.Config
	Workers int
	now     func() time.Time
}

// NewRelocator wires a relocator over the three stores.
func NewRelocator(src SourceStore, tgt TargetStore, obj ObjectStore, rc retry.Config, workers int) *Relocator {
	return &Relocator{Source: src, Target: tgt, Objects: obj, Retry: rc, Workers: workers, now: time.Now}
}

// CanonicalKey builds the deterministic storage address for one attachment.
// Re-running relocation on the same inputs always produces the same key.
func CanonicalKey(institutionID, subjectID, kind, ext string) string {
	return fmt.Sprintf("institutions/%s/subjects/%s/%s/%s_%s%s",
		institutionID, subjectID, kind, subjectID, kind, ext)
}

// legacyFile is one discovered file with its parsed convention.
type legacyFile struct {
	path    string
	size    int64
	pattern models.PatternSpec
	key     string // raw natural key or subject id from the filename
	ext     string // including the dot
}

// resolution ties a legacy file to its owning subject in both stores.
type resolution struct {
	file       legacyFile
	sourceColl string
	sourceID   string
	targetID   string
}

// Run relocates every file under root. Uploads are parallelized up to the
// worker limit; per-file failures are findings, not stage failures.
func (r *Relocator) Run(ctx context.Context, root string, plan *models.Plan, rc *RunContext) (models.StageReport, error) {
	report := models.StageReport{Stage: StageRelocate}
	start := r.now()

	// Dry-run works without object storage connectivity at all.
	if !rc.DryRun {
		if r.Objects == nil {
			report.Duration = r.now().Sub(start)
			return report, errors.New("object storage not configured")
		}
		if err := r.Objects.EnsureBucket(ctx); err != nil {
			report.Duration = r.now().Sub(start)
			return report, fmt.Errorf("ensure bucket: %w", err)
		}
	}

	files, findings := discoverFiles(root, plan.Patterns)
	for _, f := range findings {
		report.AddFinding(f.Kind, f.Subject, f.Detail)
	}
	report.Scanned = len(files) + len(findings)

	resolver, err := r.buildResolver(ctx, plan.SubjectCollections)
	if err != nil {
		report.Duration = r.now().Sub(start)
		return report, err
	}

	var resolutions []resolution
	for _, f := range files {
		res, finding := resolver(f)
		if finding != nil {
			report.AddFinding(finding.Kind, finding.Subject, finding.Detail)
			continue
		}
		resolutions = append(resolutions, res)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	for _, res := range resolutions {
		res := res
		g.Go(func() error {
			outcome, err := r.relocateOne(gctx, res, rc)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.AddFinding(models.FindingRecordError, res.file.path, err.Error())
			case outcome == outcomeUploaded:
				report.Migrated++
			default:
				report.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		report.Duration = r.now().Sub(start)
		return report, err
	}

	report.Duration = r.now().Sub(start)
	logger.Infof("relocate done: scanned=%d uploaded=%d skipped=%d errors=%d",
		report.Scanned, report.Migrated, report.Skipped, report.Errors)
	return report, nil
}

type relocateOutcome int

const (
	outcomeUploaded relocateOutcome = iota
	outcomeAlreadyStored
)

// relocateOne uploads one file to its canonical key unless identical content
// already sits there, then rewrites the subject's reference field. The key
// is deterministic, so a re-upload after a crash is harmless.
func (r *Relocator) relocateOne(ctx context.Context, res resolution, rc *RunContext) (relocateOutcome, error) {
	key := CanonicalKey(rc.InstitutionID, res.targetID, res.file.pattern.Kind, res.file.ext)

	outcome := outcomeUploaded
	if r.Objects != nil {
		size, statErr := r.Objects.Stat(ctx, key)
		switch {
		case statErr == nil && size == res.file.size:
			outcome = outcomeAlreadyStored
		case statErr != nil && !errors.Is(statErr, ErrNotFound):
			return 0, fmt.Errorf("stat %s: %w", key, statErr)
		}
	}

	if rc.DryRun {
		logger.Infof("[dry-run] would relocate %s -> %s", res.file.path, key)
		return outcome, nil
	}

	if outcome == outcomeUploaded {
		err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
			return r.Objects.Upload(ctx, key, res.file.path)
		})
		if err != nil {
			return 0, fmt.Errorf("upload %s: %w", key, err)
		}
	}

	// An upload whose reference rewrite fails leaves a harmless orphan
	// under a deterministic key; the next run writes the same key and
	// retries the rewrite.
	err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return r.Source.SetSubjectField(ctx, res.sourceColl, res.sourceID, res.file.pattern.RefField, key)
	})
	if err != nil {
		return 0, fmt.Errorf("rewrite %s.%s: %w", res.sourceID, res.file.pattern.RefField, err)
	}
	return outcome, nil
}

// discoverFiles walks the legacy root and parses each filename against the
// pattern of its parent folder.
func discoverFiles(root string, patterns map[string]models.PatternSpec) ([]legacyFile, []models.Finding) {
	var files []legacyFile
	var findings []models.Finding

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		folder := filepath.Base(filepath.Dir(path))
		pattern, ok := patterns[folder]
		if !ok {
			findings = append(findings, models.Finding{
				Kind: models.FindingUnresolvedRef, Subject: path,
				Detail: fmt.Sprintf("no pattern for folder %q", folder),
			})
			return nil
		}
		key, ext, parseErr := parseFilename(d.Name(), pattern.Kind)
		if parseErr != nil {
			findings = append(findings, models.Finding{
				Kind: models.FindingUnresolvedRef, Subject: path, Detail: parseErr.Error(),
			})
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			findings = append(findings, models.Finding{
				Kind: models.FindingRecordError, Subject: path, Detail: infoErr.Error(),
			})
			return nil
		}
		files = append(files, legacyFile{path: path, size: info.Size(), pattern: pattern, key: key, ext: ext})
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, os.ErrNotExist) {
		findings = append(findings, models.Finding{
			Kind: models.FindingRecordError, Subject: root, Detail: walkErr.Error(),
		})
	}
	return files, findings
}

// parseFilename recovers the natural key from <key>_<kind>.<ext>.
func parseFilename(name, kind string) (key, ext string, err error) {
	ext = filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := "_" + kind
	if !strings.HasSuffix(base, suffix) {
		return "", "", fmt.Errorf("filename %q does not match pattern <key>%s", name, suffix)
	}
	key = strings.TrimSuffix(base, suffix)
	if key == "" {
		return "", "", fmt.Errorf("filename %q has an empty key", name)
	}
	return key, ext, nil
}

// buildResolver loads the subject collections once and returns a closure
// resolving a parsed file to its subject in both identity spaces. Roll
// numbers resolve through the matcher; subject-id filenames resolve through
// the reverse of the same matching pass.
func (r *Relocator) buildResolver(ctx context.Context, collections []string) (func(legacyFile) (resolution, *models.Finding), error) {
	targets, err := r.Target.LoadSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("load target subjects: %w", err)
	}
	idx := BuildTargetIndex(targets)

	type owner struct {
		coll     string
		sourceID string
		targetID string
	}
	byRoll := make(map[string]owner)
	byTargetID := make(map[string]owner)

	for _, coll := range collections {
		sources, err := r.Source.LoadSubjects(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", coll, err)
		}
		keys := BuildSourceKeys(sources)
		for _, src := range sources {
			res := Match(src, idx, keys)
			if res.Outcome != MatchFound {
				continue
			}
			o := owner{coll: coll, sourceID: src.SourceID, targetID: res.Target.TargetID}
			if roll := models.NormalizeRoll(src.RollNumber); roll != "" {
				byRoll[roll] = o
			}
			byTargetID[res.Target.TargetID] = o
		}
	}

	return func(f legacyFile) (resolution, *models.Finding) {
		var o owner
		var ok bool
		switch f.pattern.KeyField {
		case models.KeyRollNumber:
			o, ok = byRoll[models.NormalizeRoll(f.key)]
		case models.KeySubjectID:
			o, ok = byTargetID[f.key]
		}
		if !ok {
			return resolution{}, &models.Finding{
				Kind: models.FindingUnresolvedRef, Subject: f.path,
				Detail: fmt.Sprintf("key %q resolves to no subject", f.key),
			}
		}
		return resolution{file: f, sourceColl: o.coll, sourceID: o.sourceID, targetID: o.targetID}, nil
	}, nil
}

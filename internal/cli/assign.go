package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusbridge/cutover/internal/pipeline"
	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/models"
	"github.com/campusbridge/cutover/pkg/retry"
)

type assignOptions struct {
	StudentRoll string
	MentorEmail string
}

// newAssignCmd covers new mentor assignments arriving during the cutover
// window: the supersede-then-insert sequence runs in both stores so the
// one-active-mentor invariant holds identically in each.
func newAssignCmd(global *GlobalOptions) *cobra.Command {
	opts := &assignOptions{}

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a mentor to a student in both stores",
		RunE: func(c *cobra.Command, args []string) error {
			return runAssign(c, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.StudentRoll, "student-roll", "", "Student roll number")
	cmd.Flags().StringVar(&opts.MentorEmail, "mentor-email", "", "Mentor email")
	cmd.MarkFlagRequired("student-roll")
	cmd.MarkFlagRequired("mentor-email")

	return cmd
}

func runAssign(cmd *cobra.Command, global *GlobalOptions, opts *assignOptions) error {
	ctx := cmd.Context()

	s, err := openStores(ctx, global, false)
	if err != nil {
		return err
	}
	defer s.close()

	// Resolve both parties through the matcher; ambiguity is a hard stop.
	targets, err := s.target.LoadSubjects(ctx)
	if err != nil {
		return err
	}
	idx := pipeline.BuildTargetIndex(targets)

	student, err := resolveOne(ctx, s, idx, func(sub models.Subject) bool {
		return models.NormalizeRoll(sub.RollNumber) == models.NormalizeRoll(opts.StudentRoll)
	}, fmt.Sprintf("student roll %s", opts.StudentRoll))
	if err != nil {
		return err
	}
	mentor, err := resolveOne(ctx, s, idx, func(sub models.Subject) bool {
		return models.NormalizeEmail(sub.Email) == models.NormalizeEmail(opts.MentorEmail)
	}, fmt.Sprintf("mentor email %s", opts.MentorEmail))
	if err != nil {
		return err
	}

	if global.DryRun {
		logger.Infof("[dry-run] would assign mentor %s to student %s in both stores", mentor.target, student.target)
		return nil
	}

	rcfg := retry.DefaultConfig().WithAttempts(s.plan.Retries())
	reconciler := pipeline.NewReconciler(s.source, s.target, s.plan.MentorshipCollection, rcfg)
	err = reconciler.Assign(ctx, pipeline.Assignment{
		Source: models.Relationship{SubjectID: student.source, MentorID: mentor.source},
		Target: models.Relationship{SubjectID: student.target, MentorID: mentor.target},
	})
	if err != nil {
		return err
	}
	logger.Infof("assigned mentor %s to student %s", mentor.target, student.target)
	return nil
}

type resolvedSubject struct {
	source string
	target string
}

// resolveOne finds exactly one source subject satisfying pred across the
// subject collections and matches it to its target row. Zero or multiple
// candidates are hard errors; assignment never guesses.
func resolveOne(ctx context.Context, s *stores, idx *pipeline.TargetIndex, pred func(models.Subject) bool, what string) (resolvedSubject, error) {
	var found []models.Subject
	var keysBySubject []*pipeline.SourceKeys

	for _, coll := range s.plan.SubjectCollections {
		subjects, err := s.source.LoadSubjects(ctx, coll)
		if err != nil {
			return resolvedSubject{}, err
		}
		keys := pipeline.BuildSourceKeys(subjects)
		for _, sub := range subjects {
			if pred(sub) {
				found = append(found, sub)
				keysBySubject = append(keysBySubject, keys)
			}
		}
	}

	switch len(found) {
	case 0:
		return resolvedSubject{}, fmt.Errorf("%s: no source subject found", what)
	case 1:
	default:
		return resolvedSubject{}, fmt.Errorf("%s: %d source subjects match, refusing to guess", what, len(found))
	}

	res := pipeline.Match(found[0], idx, keysBySubject[0])
	if res.Outcome != pipeline.MatchFound {
		return resolvedSubject{}, fmt.Errorf("%s: subject %s has no unambiguous target match, run sync first", what, found[0].SourceID)
	}
	return resolvedSubject{source: found[0].SourceID, target: res.Target.TargetID}, nil
}

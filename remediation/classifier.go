package remediation

import (
	"context"
	"fmt"

	"github.com/yairfalse/colorbot/platform"
)

// Class is the result category of classifying a role management failure
type Class int

const (
	// ClassFatal is anything unexplained; it aborts the run
	ClassFatal Class = iota
	// ClassAlreadyAbsent means the role is already gone, which counts as success
	ClassAlreadyAbsent
	// ClassRecoverable is an operator-fixable misconfiguration
	ClassRecoverable
)

func (c Class) String() string {
	switch c {
	case ClassAlreadyAbsent:
		return "already_absent"
	case ClassRecoverable:
		return "recoverable"
	default:
		return "fatal"
	}
}

// Classification is the outcome of Classify
type Classification struct {
	Class  Class
	Report *ErrorReport // set for ClassRecoverable
	Err    error        // original failure, set for ClassFatal
}

// Classifier resolves platform failures into AlreadyAbsent, Recoverable or Fatal
type Classifier struct {
	ranks platform.RankLookup
}

// NewClassifier creates a classifier. ranks is consulted only for
// missing-permission failures.
func NewClassifier(ranks platform.RankLookup) *Classifier {
	return &Classifier{ranks: ranks}
}

// Classify inspects err raised while managing target in guildID. target may be
// nil when the failing call was not about a specific role (e.g. role creation);
// missing-permission failures are then always fatal.
func (c *Classifier) Classify(ctx context.Context, guildID string, err error, target *Target) Classification {
	code, ok := platform.FailureCode(err)
	if !ok {
		return Classification{Class: ClassFatal, Err: err}
	}

	switch code {
	case platform.CodeUnknownRole:
		return Classification{Class: ClassAlreadyAbsent}

	case platform.CodeMissingAccess:
		return Classification{
			Class:  ClassRecoverable,
			Report: &ErrorReport{Message: MissingAccessMessage, Target: target},
		}

	case platform.CodeMissingPermissions:
		return c.classifyPosition(ctx, guildID, err, target)

	default:
		return Classification{Class: ClassFatal, Err: err}
	}
}

// classifyPosition pays the extra round trip only when the code plausibly
// points at a rank problem.
func (c *Classifier) classifyPosition(ctx context.Context, guildID string, err error, target *Target) Classification {
	if target == nil || c.ranks == nil {
		return Classification{Class: ClassFatal, Err: err}
	}

	position, lookupErr := c.ranks.HighestRolePosition(ctx, guildID)
	if lookupErr != nil {
		return Classification{
			Class: ClassFatal,
			Err:   fmt.Errorf("%w (rank lookup failed: %v)", err, lookupErr),
		}
	}

	if position < target.Position {
		return Classification{
			Class:  ClassRecoverable,
			Report: &ErrorReport{Message: RolePositionMessage, Target: target},
		}
	}

	return Classification{Class: ClassFatal, Err: err}
}

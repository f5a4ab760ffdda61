package planner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPrimaryKey indicates a required primary key is missing.
var ErrNoPrimaryKey = errors.New("no primary key")

// ErrAliasCollision indicates that two sibling associations claim the same
// result key with different semantics.
var ErrAliasCollision = errors.New("alias collision")

// ErrUnknownColumn indicates a filter or ordering names a column the table lacks.
var ErrUnknownColumn = errors.New("unknown column")

// ErrInvalidAssociation indicates an association that cannot be compiled where it is included.
var ErrInvalidAssociation = errors.New("invalid association")

// ErrUnsupportedLimit indicates a per-parent limit on an association that cannot carry one.
var ErrUnsupportedLimit = errors.New("unsupported per-parent limit")

// AliasCollisionError reports two siblings resolving to the same key.
type AliasCollisionError struct {
	// Parent is the path of the node whose children collide; empty for the base table.
	Parent []string
	Key    string
	// Pivot is set when the colliding key belongs to shared pivot tables.
	Pivot bool
}

func (e *AliasCollisionError) Error() string {
	where := "base"
	if len(e.Parent) > 0 {
		where = strings.Join(e.Parent, pathSeparator)
	}
	what := "association"
	if e.Pivot {
		what = "pivot"
	}
	return fmt.Sprintf("%s: %s key %q under %s is used by siblings with different definitions; give them distinct keys", ErrAliasCollision, what, e.Key, where)
}

func (e *AliasCollisionError) Unwrap() error {
	return ErrAliasCollision
}

package training

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
)

// Level is a depth of the training hierarchy: trainings hold modules, modules hold submodules.
// Users are granted access to each level through permission links.
type Level int

const (
	LevelTraining Level = iota + 1
	LevelModule
	LevelSubmodule
)

var levelNames = map[Level]string{
	LevelTraining:  "training",
	LevelModule:    "module",
	LevelSubmodule: "submodule",
}

func (l Level) String() string {
	return levelNames[l]
}

func (l Level) IsValid() bool {
	_, ok := levelNames[l]
	return ok
}

// Child returns the level right below l, if any.
func (l Level) Child() (Level, bool) {
	if l == LevelTraining || l == LevelModule {
		return l + 1, true
	}
	return 0, false
}

// Node identifies one entity of the hierarchy.
type Node struct {
	Level Level
	ID    int
}

// NotFoundError returns the error reported when the entity at level does not exist.
func NotFoundError(level Level) error {
	return core.NewNotFoundError(level.String() + " not found")
}

// PermissionChange grants and revokes a node's permission links.
type PermissionChange struct {
	AddedUsers   []int `json:"addedUsers" validate:"dive,gt=0"`
	RemovedUsers []int `json:"removedUsers" validate:"dive,gt=0"`
	AddRelatives bool  `json:"addRelatives"` // cascade to every descendant
}

// Normalize dedupes both sets. A user both added and removed is left untouched.
func (pc *PermissionChange) Normalize() {
	added := core.UniqueIDs(pc.AddedUsers)
	removed := core.UniqueIDs(pc.RemovedUsers)

	inRemoved := make(map[int]bool, len(removed))
	for _, id := range removed {
		inRemoved[id] = true
	}
	inAdded := make(map[int]bool, len(added))
	for _, id := range added {
		inAdded[id] = true
	}

	pc.AddedUsers = make([]int, 0, len(added))
	for _, id := range added {
		if !inRemoved[id] {
			pc.AddedUsers = append(pc.AddedUsers, id)
		}
	}
	pc.RemovedUsers = make([]int, 0, len(removed))
	for _, id := range removed {
		if !inAdded[id] {
			pc.RemovedUsers = append(pc.RemovedUsers, id)
		}
	}
}

func (pc *PermissionChange) IsEmpty() bool {
	return len(pc.AddedUsers) == 0 && len(pc.RemovedUsers) == 0
}

// PermissionStore persists permission links of every level.
type PermissionStore interface {
	// ChildIDs lists the IDs of the direct children of node.
	ChildIDs(ctx context.Context, node Node, exec ...core.DBExecutor) ([]int, error)
	// GrantPermissions links userIDs to node, skipping existing links.
	GrantPermissions(ctx context.Context, node Node, userIDs []int, exec ...core.DBExecutor) error
	RevokePermissions(ctx context.Context, node Node, userIDs []int, exec ...core.DBExecutor) error
}

// Propagate applies a normalized change to node and, when change.AddRelatives is set, to every
// descendant of node. Run it inside a transaction to apply the cascade all-or-nothing.
func Propagate(ctx context.Context, store PermissionStore, node Node, change PermissionChange, exec ...core.DBExecutor) error {
	if len(change.RemovedUsers) > 0 {
		if err := store.RevokePermissions(ctx, node, change.RemovedUsers, exec...); err != nil {
			return errors.Wrapf(err, "revoking %s %d permissions", node.Level, node.ID)
		}
	}
	if len(change.AddedUsers) > 0 {
		if err := store.GrantPermissions(ctx, node, change.AddedUsers, exec...); err != nil {
			return errors.Wrapf(err, "granting %s %d permissions", node.Level, node.ID)
		}
	}

	if !change.AddRelatives {
		return nil
	}
	childLevel, ok := node.Level.Child()
	if !ok {
		return nil
	}
	childIDs, err := store.ChildIDs(ctx, node, exec...)
	if err != nil {
		return errors.Wrapf(err, "listing %s %d children", node.Level, node.ID)
	}
	for _, id := range childIDs {
		if err = Propagate(ctx, store, Node{Level: childLevel, ID: id}, change, exec...); err != nil {
			return err
		}
	}
	return nil
}

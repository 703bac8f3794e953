package training

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/portal/core"
)

// memStore is an in-memory PermissionStore.
type memStore struct {
	children map[Node][]int
	links    map[Node]map[int]bool
	failOn   *Node
}

func newMemStore() *memStore {
	return &memStore{children: make(map[Node][]int), links: make(map[Node]map[int]bool)}
}

func (s *memStore) ChildIDs(_ context.Context, node Node, _ ...core.DBExecutor) ([]int, error) {
	return s.children[node], nil
}

func (s *memStore) GrantPermissions(_ context.Context, node Node, userIDs []int, _ ...core.DBExecutor) error {
	if s.failOn != nil && *s.failOn == node {
		return errors.New("boom")
	}
	if s.links[node] == nil {
		s.links[node] = make(map[int]bool)
	}
	for _, id := range userIDs {
		s.links[node][id] = true
	}
	return nil
}

func (s *memStore) RevokePermissions(_ context.Context, node Node, userIDs []int, _ ...core.DBExecutor) error {
	for _, id := range userIDs {
		delete(s.links[node], id)
	}
	return nil
}

func (s *memStore) users(node Node) []int {
	ids := make([]int, 0, len(s.links[node]))
	for id := range s.links[node] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

var (
	training1  = Node{LevelTraining, 1}
	training2  = Node{LevelTraining, 2}
	module1    = Node{LevelModule, 10}
	module2    = Node{LevelModule, 11}
	module3    = Node{LevelModule, 20}
	submodule1 = Node{LevelSubmodule, 100}
	submodule2 = Node{LevelSubmodule, 101}
	submodule3 = Node{LevelSubmodule, 110}
	submodule4 = Node{LevelSubmodule, 200}
)

// seededStore holds two trainings: 1 > (10 > 100, 101), (11 > 110) and 2 > 20 > 200.
func seededStore() *memStore {
	s := newMemStore()
	s.children[training1] = []int{10, 11}
	s.children[training2] = []int{20}
	s.children[module1] = []int{100, 101}
	s.children[module2] = []int{110}
	s.children[module3] = []int{200}
	return s
}

func TestPermissionChange_Normalize(t *testing.T) {
	tests := []struct {
		name        string
		change      PermissionChange
		wantAdded   []int
		wantRemoved []int
		wantEmpty   bool
	}{
		{name: "empty", wantAdded: []int{}, wantRemoved: []int{}, wantEmpty: true},
		{
			name:      "dedupe",
			change:    PermissionChange{AddedUsers: []int{3, 1, 3, 2, 1}, RemovedUsers: []int{5, 5}},
			wantAdded: []int{3, 1, 2}, wantRemoved: []int{5},
		},
		{
			name:      "both added & removed",
			change:    PermissionChange{AddedUsers: []int{1, 2}, RemovedUsers: []int{2, 3}},
			wantAdded: []int{1}, wantRemoved: []int{3},
		},
		{
			name:      "everything cancels out",
			change:    PermissionChange{AddedUsers: []int{4}, RemovedUsers: []int{4}},
			wantAdded: []int{}, wantRemoved: []int{}, wantEmpty: true,
		},
		{
			name:      "non positive ids dropped",
			change:    PermissionChange{AddedUsers: []int{0, -1, 7}},
			wantAdded: []int{7}, wantRemoved: []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.change.Normalize()
			assert.Equal(t, tt.wantAdded, tt.change.AddedUsers)
			assert.Equal(t, tt.wantRemoved, tt.change.RemovedUsers)
			assert.Equal(t, tt.wantEmpty, tt.change.IsEmpty())
		})
	}
}

func TestLevel_Child(t *testing.T) {
	lvl, ok := LevelTraining.Child()
	assert.True(t, ok)
	assert.Equal(t, LevelModule, lvl)

	lvl, ok = LevelModule.Child()
	assert.True(t, ok)
	assert.Equal(t, LevelSubmodule, lvl)

	_, ok = LevelSubmodule.Child()
	assert.False(t, ok)

	assert.False(t, Level(0).IsValid())
	assert.Equal(t, "submodule", LevelSubmodule.String())
}

func TestPropagate(t *testing.T) {
	ctx := context.Background()

	t.Run("single node", func(t *testing.T) {
		s := seededStore()
		err := Propagate(ctx, s, training1, PermissionChange{AddedUsers: []int{1, 2}})
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2}, s.users(training1))
		assert.Empty(t, s.users(module1))
		assert.Empty(t, s.users(submodule1))
	})

	t.Run("cascade add", func(t *testing.T) {
		s := seededStore()
		err := Propagate(ctx, s, training1, PermissionChange{AddedUsers: []int{1}, AddRelatives: true})
		assert.NoError(t, err)
		for _, n := range []Node{training1, module1, module2, submodule1, submodule2, submodule3} {
			assert.Equal(t, []int{1}, s.users(n), "%s %d", n.Level, n.ID)
		}
		// unrelated training untouched
		for _, n := range []Node{training2, module3, submodule4} {
			assert.Empty(t, s.users(n), "%s %d", n.Level, n.ID)
		}
	})

	t.Run("cascade from module", func(t *testing.T) {
		s := seededStore()
		err := Propagate(ctx, s, module1, PermissionChange{AddedUsers: []int{5}, AddRelatives: true})
		assert.NoError(t, err)
		assert.Equal(t, []int{5}, s.users(module1))
		assert.Equal(t, []int{5}, s.users(submodule1))
		assert.Equal(t, []int{5}, s.users(submodule2))
		assert.Empty(t, s.users(training1))
		assert.Empty(t, s.users(module2))
		assert.Empty(t, s.users(submodule3))
	})

	t.Run("cascade remove", func(t *testing.T) {
		s := seededStore()
		assert.NoError(t, Propagate(ctx, s, training1, PermissionChange{AddedUsers: []int{1, 2}, AddRelatives: true}))
		assert.NoError(t, Propagate(ctx, s, training2, PermissionChange{AddedUsers: []int{1}, AddRelatives: true}))

		err := Propagate(ctx, s, training1, PermissionChange{RemovedUsers: []int{1}, AddRelatives: true})
		assert.NoError(t, err)
		for _, n := range []Node{training1, module1, module2, submodule1, submodule2, submodule3} {
			assert.Equal(t, []int{2}, s.users(n), "%s %d", n.Level, n.ID)
		}
		for _, n := range []Node{training2, module3, submodule4} {
			assert.Equal(t, []int{1}, s.users(n), "%s %d", n.Level, n.ID)
		}
	})

	t.Run("add then remove is a no-op", func(t *testing.T) {
		s := seededStore()
		assert.NoError(t, Propagate(ctx, s, training1, PermissionChange{AddedUsers: []int{3}, AddRelatives: true}))
		assert.NoError(t, Propagate(ctx, s, training1, PermissionChange{RemovedUsers: []int{3}, AddRelatives: true}))
		for _, n := range []Node{training1, module1, module2, submodule1, submodule2, submodule3} {
			assert.Empty(t, s.users(n), "%s %d", n.Level, n.ID)
		}
	})

	t.Run("grant is idempotent", func(t *testing.T) {
		s := seededStore()
		change := PermissionChange{AddedUsers: []int{1}, AddRelatives: true}
		assert.NoError(t, Propagate(ctx, s, training1, change))
		assert.NoError(t, Propagate(ctx, s, training1, change))
		assert.Equal(t, []int{1}, s.users(submodule1))
	})

	t.Run("store failure stops the cascade", func(t *testing.T) {
		s := seededStore()
		s.failOn = &module2
		err := Propagate(ctx, s, training1, PermissionChange{AddedUsers: []int{1}, AddRelatives: true})
		assert.Error(t, err)
		assert.Empty(t, s.users(submodule3))
	})
}

package training

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

var (
	// errors
	ErrNoAccess       = errors.New("no access to this content")
	ErrLessonNotFound = core.NewNotFoundError("lesson not found")
)

type (
	Repository interface {
		PermissionStore

		CreateTraining(ctx context.Context, t Training, exec ...core.DBExecutor) (Training, error)
		UpdateTraining(ctx context.Context, t Training, exec ...core.DBExecutor) (Training, error)
		GetTrainingByID(ctx context.Context, id int, exec ...core.DBExecutor) (Training, error)
		// QueryTrainings lists trainings, only those viewerID is linked to when viewerID is set.
		QueryTrainings(ctx context.Context, viewerID int, page core.Page, exec ...core.DBExecutor) ([]Training, int, error)

		CreateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		UpdateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		GetModuleByID(ctx context.Context, id int, exec ...core.DBExecutor) (Module, error)
		// GetModules lists the modules of trainingID, only those viewerID is linked to when viewerID is set.
		GetModules(ctx context.Context, trainingID, viewerID int, exec ...core.DBExecutor) ([]Module, error)

		CreateSubmodule(ctx context.Context, s Submodule, exec ...core.DBExecutor) (Submodule, error)
		UpdateSubmodule(ctx context.Context, s Submodule, exec ...core.DBExecutor) (Submodule, error)
		GetSubmoduleByID(ctx context.Context, id int, exec ...core.DBExecutor) (Submodule, error)
		GetSubmodules(ctx context.Context, moduleIDs []int, viewerID int, exec ...core.DBExecutor) ([]Submodule, error)

		CreateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		GetLessonByID(ctx context.Context, id int, exec ...core.DBExecutor) (Lesson, error)
		GetLessons(ctx context.Context, submoduleIDs []int, exec ...core.DBExecutor) ([]Lesson, error)

		Exists(ctx context.Context, node Node, exec ...core.DBExecutor) (bool, error)
		HasPermission(ctx context.Context, node Node, userID int, exec ...core.DBExecutor) (bool, error)
		PermittedUserIDs(ctx context.Context, node Node, exec ...core.DBExecutor) ([]int, error)
	}

	// UserFinder resolves the users of a permission change.
	UserFinder interface {
		GetByIDs(ctx context.Context, ids ...int) ([]user.User, error)
	}

	Service interface {
		CreateTraining(ctx context.Context, nt NewTraining) (Training, error)
		UpdateTraining(ctx context.Context, id int, nt NewTraining) (Training, error)
		QueryTrainings(ctx context.Context, page core.Page) ([]Training, int, error)
		// Tree returns a training with all its modules, submodules & lessons.
		Tree(ctx context.Context, id int) (Training, error)

		CreateModule(ctx context.Context, nm NewModule) (Module, error)
		UpdateModule(ctx context.Context, id int, us UpdateSection) (Module, error)
		CreateSubmodule(ctx context.Context, ns NewSubmodule) (Submodule, error)
		UpdateSubmodule(ctx context.Context, id int, us UpdateSection) (Submodule, error)
		CreateLesson(ctx context.Context, nl NewLesson) (Lesson, error)
		UpdateLesson(ctx context.Context, id int, ul UpdateLesson) (Lesson, error)
		GetLesson(ctx context.Context, id int) (Lesson, error)
		SetLessonFile(ctx context.Context, id int, key string) (Lesson, error)

		// UpdatePermissions applies change to node (and its descendants) in one transaction.
		UpdatePermissions(ctx context.Context, node Node, change PermissionChange) error
		Permissions(ctx context.Context, node Node) ([]int, error)

		// QueryVisible lists the trainings viewer may see.
		QueryVisible(ctx context.Context, viewer user.User, page core.Page) ([]Training, int, error)
		// VisibleTree returns the parts of a training's tree viewer holds permission links on.
		VisibleTree(ctx context.Context, viewer user.User, id int) (Training, error)
		// Lessons lists the lessons of a submodule viewer is linked to.
		Lessons(ctx context.Context, viewer user.User, submoduleID int) ([]Lesson, error)
	}

	service struct {
		db    core.DB
		repo  Repository
		users UserFinder
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, users UserFinder) Service {
	return &service{db: db, repo: repo, users: users}
}

// viewerID returns the ID to restrict listings to, 0 for admins who see everything.
func viewerID(viewer user.User) int {
	if viewer.IsAdmin() {
		return 0
	}
	return viewer.ID
}

func (svc *service) CreateTraining(ctx context.Context, nt NewTraining) (Training, error) {
	now := time.Now().UTC()
	return svc.repo.CreateTraining(ctx, Training{
		Title:       nt.Title,
		Description: null.NewString(nt.Description, nt.Description != ""),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *service) UpdateTraining(ctx context.Context, id int, nt NewTraining) (Training, error) {
	t, err := svc.repo.GetTrainingByID(ctx, id)
	if err != nil {
		return Training{}, err
	}
	t.Title = nt.Title
	t.Description = null.NewString(nt.Description, nt.Description != "")
	t.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateTraining(ctx, t)
}

func (svc *service) QueryTrainings(ctx context.Context, page core.Page) ([]Training, int, error) {
	page.Clean()
	return svc.repo.QueryTrainings(ctx, 0, page)
}

func (svc *service) Tree(ctx context.Context, id int) (Training, error) {
	return svc.tree(ctx, id, 0)
}

// tree loads training id down to the lessons, keeping only what viewerID is linked to when set.
func (svc *service) tree(ctx context.Context, id, viewerID int) (Training, error) {
	t, err := svc.repo.GetTrainingByID(ctx, id)
	if err != nil {
		return Training{}, err
	}
	if t.Modules, err = svc.repo.GetModules(ctx, id, viewerID); err != nil {
		return Training{}, errors.Wrap(err, "getting modules")
	}

	moduleIDs := make([]int, 0, len(t.Modules))
	for _, m := range t.Modules {
		moduleIDs = append(moduleIDs, m.ID)
	}
	submodules, err := svc.repo.GetSubmodules(ctx, moduleIDs, viewerID)
	if err != nil {
		return Training{}, errors.Wrap(err, "getting submodules")
	}

	submoduleIDs := make([]int, 0, len(submodules))
	for _, s := range submodules {
		submoduleIDs = append(submoduleIDs, s.ID)
	}
	lessons, err := svc.repo.GetLessons(ctx, submoduleIDs)
	if err != nil {
		return Training{}, errors.Wrap(err, "getting lessons")
	}

	lessonsBySub := make(map[int][]Lesson, len(submodules))
	for _, l := range lessons {
		lessonsBySub[l.SubmoduleID] = append(lessonsBySub[l.SubmoduleID], l)
	}
	subsByModule := make(map[int][]Submodule, len(t.Modules))
	for _, s := range submodules {
		s.Lessons = lessonsBySub[s.ID]
		subsByModule[s.ModuleID] = append(subsByModule[s.ModuleID], s)
	}
	for i := range t.Modules {
		t.Modules[i].Submodules = subsByModule[t.Modules[i].ID]
	}
	return t, nil
}

func (svc *service) checkParent(ctx context.Context, node Node, field string) error {
	ok, err := svc.repo.Exists(ctx, node)
	if err != nil {
		return errors.Wrapf(err, "checking %s", node.Level)
	}
	if !ok {
		return core.NewValidationError(nil, core.FieldError{Field: field, Error: node.Level.String() + " not found"})
	}
	return nil
}

func (svc *service) CreateModule(ctx context.Context, nm NewModule) (Module, error) {
	if err := svc.checkParent(ctx, Node{Level: LevelTraining, ID: nm.TrainingID}, "trainingId"); err != nil {
		return Module{}, err
	}
	return svc.repo.CreateModule(ctx, Module{TrainingID: nm.TrainingID, Title: nm.Title, Position: nm.Position})
}

func (svc *service) UpdateModule(ctx context.Context, id int, us UpdateSection) (Module, error) {
	m, err := svc.repo.GetModuleByID(ctx, id)
	if err != nil {
		return Module{}, err
	}
	m.Title = us.Title
	m.Position = us.Position
	return svc.repo.UpdateModule(ctx, m)
}

func (svc *service) CreateSubmodule(ctx context.Context, ns NewSubmodule) (Submodule, error) {
	if err := svc.checkParent(ctx, Node{Level: LevelModule, ID: ns.ModuleID}, "moduleId"); err != nil {
		return Submodule{}, err
	}
	return svc.repo.CreateSubmodule(ctx, Submodule{ModuleID: ns.ModuleID, Title: ns.Title, Position: ns.Position})
}

func (svc *service) UpdateSubmodule(ctx context.Context, id int, us UpdateSection) (Submodule, error) {
	s, err := svc.repo.GetSubmoduleByID(ctx, id)
	if err != nil {
		return Submodule{}, err
	}
	s.Title = us.Title
	s.Position = us.Position
	return svc.repo.UpdateSubmodule(ctx, s)
}

func (svc *service) CreateLesson(ctx context.Context, nl NewLesson) (Lesson, error) {
	if err := svc.checkParent(ctx, Node{Level: LevelSubmodule, ID: nl.SubmoduleID}, "submoduleId"); err != nil {
		return Lesson{}, err
	}
	return svc.repo.CreateLesson(ctx, Lesson{
		SubmoduleID: nl.SubmoduleID,
		Title:       nl.Title,
		Content:     null.NewString(nl.Content, nl.Content != ""),
		VideoURL:    null.NewString(nl.VideoURL, nl.VideoURL != ""),
		Position:    nl.Position,
	})
}

func (svc *service) UpdateLesson(ctx context.Context, id int, ul UpdateLesson) (Lesson, error) {
	l, err := svc.repo.GetLessonByID(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	l.Title = ul.Title
	l.Content = null.NewString(ul.Content, ul.Content != "")
	l.VideoURL = null.NewString(ul.VideoURL, ul.VideoURL != "")
	l.Position = ul.Position
	return svc.repo.UpdateLesson(ctx, l)
}

func (svc *service) GetLesson(ctx context.Context, id int) (Lesson, error) {
	return svc.repo.GetLessonByID(ctx, id)
}

func (svc *service) SetLessonFile(ctx context.Context, id int, key string) (Lesson, error) {
	l, err := svc.repo.GetLessonByID(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	l.FileKey = null.StringFrom(key)
	return svc.repo.UpdateLesson(ctx, l)
}

func (svc *service) UpdatePermissions(ctx context.Context, node Node, change PermissionChange) error {
	if !node.Level.IsValid() {
		return errors.Errorf("invalid level %d", node.Level)
	}
	change.Normalize()
	if err := svc.checkUsers(ctx, change.AddedUsers); err != nil {
		return err
	}

	return core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		ok, err := svc.repo.Exists(ctx, node, exec)
		if err != nil {
			return errors.Wrapf(err, "checking %s", node.Level)
		}
		if !ok {
			return NotFoundError(node.Level)
		}
		if change.IsEmpty() {
			return nil
		}
		return Propagate(ctx, svc.repo, node, change, exec)
	})
}

// checkUsers fails with a validation error when some ids are not known users.
func (svc *service) checkUsers(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := svc.users.GetByIDs(ctx, ids...)
	if err != nil {
		return errors.Wrap(err, "finding users")
	}
	found := make(map[int]bool, len(users))
	for _, usr := range users {
		found[usr.ID] = true
	}
	var unknown []string
	for _, id := range ids {
		if !found[id] {
			unknown = append(unknown, strconv.Itoa(id))
		}
	}
	if len(unknown) > 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "addedUsers", Error: "unknown users: " + strings.Join(unknown, ", ")})
	}
	return nil
}

func (svc *service) Permissions(ctx context.Context, node Node) ([]int, error) {
	ok, err := svc.repo.Exists(ctx, node)
	if err != nil {
		return nil, errors.Wrapf(err, "checking %s", node.Level)
	}
	if !ok {
		return nil, NotFoundError(node.Level)
	}
	return svc.repo.PermittedUserIDs(ctx, node)
}

func (svc *service) QueryVisible(ctx context.Context, viewer user.User, page core.Page) ([]Training, int, error) {
	page.Clean()
	return svc.repo.QueryTrainings(ctx, viewerID(viewer), page)
}

func (svc *service) VisibleTree(ctx context.Context, viewer user.User, id int) (Training, error) {
	if err := svc.checkAccess(ctx, viewer, Node{Level: LevelTraining, ID: id}); err != nil {
		return Training{}, err
	}
	return svc.tree(ctx, id, viewerID(viewer))
}

func (svc *service) Lessons(ctx context.Context, viewer user.User, submoduleID int) ([]Lesson, error) {
	if err := svc.checkAccess(ctx, viewer, Node{Level: LevelSubmodule, ID: submoduleID}); err != nil {
		return nil, err
	}
	return svc.repo.GetLessons(ctx, []int{submoduleID})
}

// checkAccess fails with a not found error for unknown nodes and ErrNoAccess when viewer holds no link.
func (svc *service) checkAccess(ctx context.Context, viewer user.User, node Node) error {
	ok, err := svc.repo.Exists(ctx, node)
	if err != nil {
		return errors.Wrapf(err, "checking %s", node.Level)
	}
	if !ok {
		return NotFoundError(node.Level)
	}
	if viewer.IsAdmin() {
		return nil
	}
	if ok, err = svc.repo.HasPermission(ctx, node, viewer.ID); err != nil {
		return errors.Wrapf(err, "checking %s permission", node.Level)
	}
	if !ok {
		return ErrNoAccess
	}
	return nil
}

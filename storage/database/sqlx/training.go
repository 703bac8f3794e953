package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/training"
)

// levelSchema maps a hierarchy level to its tables.
type levelSchema struct {
	table       string // entity table
	permTable   string // permission links table
	permColumn  string // entity column of permTable
	childTable  string
	childColumn string // parent column of childTable
}

var levelSchemas = map[training.Level]levelSchema{
	training.LevelTraining: {
		table:       "trainings",
		permTable:   "training_permissions",
		permColumn:  "training_id",
		childTable:  "training_modules",
		childColumn: "training_id",
	},
	training.LevelModule: {
		table:       "training_modules",
		permTable:   "module_permissions",
		permColumn:  "module_id",
		childTable:  "training_submodules",
		childColumn: "module_id",
	},
	training.LevelSubmodule: {
		table:      "training_submodules",
		permTable:  "submodule_permissions",
		permColumn: "submodule_id",
	},
}

func schemaOf(level training.Level) (levelSchema, error) {
	s, ok := levelSchemas[level]
	if !ok {
		return levelSchema{}, errors.Errorf("unknown level %d", level)
	}
	return s, nil
}

const (
	trainingColumns  = `t.id, t.title, t.description, t.created_at, t.updated_at`
	moduleColumns    = `m.id, m.training_id, m.title, m.position`
	submoduleColumns = `s.id, s.module_id, s.title, s.position`
	lessonColumns    = `l.id, l.submodule_id, l.title, l.content, l.video_url, l.file_key, l.position`
)

type trainingRepository struct {
	repository
}

var _ training.Repository = (*trainingRepository)(nil)

func NewTrainingRepository(db *sqlx.DB) training.Repository {
	return &trainingRepository{repository{db: db}}
}

// Trainings

func (repo trainingRepository) CreateTraining(ctx context.Context, t training.Training, exec ...core.DBExecutor) (training.Training, error) {
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `
		INSERT INTO trainings (title, description, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		t.Title, t.Description, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return training.Training{}, errors.Wrap(err, "inserting training")
	}
	return repo.GetTrainingByID(ctx, id, ex)
}

func (repo trainingRepository) UpdateTraining(ctx context.Context, t training.Training, exec ...core.DBExecutor) (training.Training, error) {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`UPDATE trainings SET title = ?, description = ?, updated_at = ? WHERE id = ?`),
		t.Title, t.Description, t.UpdatedAt.UTC(), t.ID)
	if err != nil {
		return training.Training{}, errors.Wrap(err, "updating training")
	}
	if err = affectedOne(res, training.NotFoundError(training.LevelTraining)); err != nil {
		return training.Training{}, err
	}
	return repo.GetTrainingByID(ctx, t.ID, ex)
}

func (repo trainingRepository) GetTrainingByID(ctx context.Context, id int, exec ...core.DBExecutor) (training.Training, error) {
	var t training.Training
	err := getOne(ctx, repo.getExec(exec), &t, training.NotFoundError(training.LevelTraining),
		"SELECT "+trainingColumns+" FROM trainings t WHERE t.id = ?", id)
	return t, err
}

func (repo trainingRepository) QueryTrainings(ctx context.Context, viewerID int, page core.Page, exec ...core.DBExecutor) ([]training.Training, int, error) {
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if viewerID > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM training_permissions p WHERE p.training_id = t.id AND p.user_id = ?)")
		args = append(args, viewerID)
	}

	total, err := count(ctx, ex, "SELECT COUNT(*) FROM trainings t"+where(conds), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting trainings")
	}

	trainings := make([]training.Training, 0, page.Limit())
	q := "SELECT " + trainingColumns + " FROM trainings t" + where(conds) + " ORDER BY t.title ASC, t.id ASC LIMIT ? OFFSET ?"
	if err = sqlx.SelectContext(ctx, ex, &trainings, ex.Rebind(q), append(args, page.Limit(), page.Offset())...); err != nil {
		return nil, 0, errors.Wrap(err, "selecting trainings")
	}
	return trainings, total, nil
}

// Modules

func (repo trainingRepository) CreateModule(ctx context.Context, m training.Module, exec ...core.DBExecutor) (training.Module, error) {
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `INSERT INTO training_modules (training_id, title, position) VALUES (?, ?, ?)`,
		m.TrainingID, m.Title, m.Position)
	if err != nil {
		return training.Module{}, errors.Wrap(err, "inserting module")
	}
	return repo.GetModuleByID(ctx, id, ex)
}

func (repo trainingRepository) UpdateModule(ctx context.Context, m training.Module, exec ...core.DBExecutor) (training.Module, error) {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`UPDATE training_modules SET title = ?, position = ? WHERE id = ?`), m.Title, m.Position, m.ID)
	if err != nil {
		return training.Module{}, errors.Wrap(err, "updating module")
	}
	if err = affectedOne(res, training.NotFoundError(training.LevelModule)); err != nil {
		return training.Module{}, err
	}
	return repo.GetModuleByID(ctx, m.ID, ex)
}

func (repo trainingRepository) GetModuleByID(ctx context.Context, id int, exec ...core.DBExecutor) (training.Module, error) {
	var m training.Module
	err := getOne(ctx, repo.getExec(exec), &m, training.NotFoundError(training.LevelModule),
		"SELECT "+moduleColumns+" FROM training_modules m WHERE m.id = ?", id)
	return m, err
}

func (repo trainingRepository) GetModules(ctx context.Context, trainingID, viewerID int, exec ...core.DBExecutor) ([]training.Module, error) {
	ex := repo.getExec(exec)
	conds := []string{"m.training_id = ?"}
	args := []interface{}{trainingID}
	if viewerID > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM module_permissions p WHERE p.module_id = m.id AND p.user_id = ?)")
		args = append(args, viewerID)
	}

	modules := make([]training.Module, 0)
	q := "SELECT " + moduleColumns + " FROM training_modules m" + where(conds) + " ORDER BY m.position, m.id"
	if err := sqlx.SelectContext(ctx, ex, &modules, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting modules")
	}
	return modules, nil
}

// Submodules

func (repo trainingRepository) CreateSubmodule(ctx context.Context, s training.Submodule, exec ...core.DBExecutor) (training.Submodule, error) {
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `INSERT INTO training_submodules (module_id, title, position) VALUES (?, ?, ?)`,
		s.ModuleID, s.Title, s.Position)
	if err != nil {
		return training.Submodule{}, errors.Wrap(err, "inserting submodule")
	}
	return repo.GetSubmoduleByID(ctx, id, ex)
}

func (repo trainingRepository) UpdateSubmodule(ctx context.Context, s training.Submodule, exec ...core.DBExecutor) (training.Submodule, error) {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`UPDATE training_submodules SET title = ?, position = ? WHERE id = ?`), s.Title, s.Position, s.ID)
	if err != nil {
		return training.Submodule{}, errors.Wrap(err, "updating submodule")
	}
	if err = affectedOne(res, training.NotFoundError(training.LevelSubmodule)); err != nil {
		return training.Submodule{}, err
	}
	return repo.GetSubmoduleByID(ctx, s.ID, ex)
}

func (repo trainingRepository) GetSubmoduleByID(ctx context.Context, id int, exec ...core.DBExecutor) (training.Submodule, error) {
	var s training.Submodule
	err := getOne(ctx, repo.getExec(exec), &s, training.NotFoundError(training.LevelSubmodule),
		"SELECT "+submoduleColumns+" FROM training_submodules s WHERE s.id = ?", id)
	return s, err
}

func (repo trainingRepository) GetSubmodules(ctx context.Context, moduleIDs []int, viewerID int, exec ...core.DBExecutor) ([]training.Submodule, error) {
	submodules := make([]training.Submodule, 0)
	if len(moduleIDs) == 0 {
		return submodules, nil
	}
	ex := repo.getExec(exec)
	query := "SELECT " + submoduleColumns + " FROM training_submodules s WHERE s.module_id IN (?)"
	args := []interface{}{moduleIDs}
	if viewerID > 0 {
		query += " AND EXISTS (SELECT 1 FROM submodule_permissions p WHERE p.submodule_id = s.id AND p.user_id = ?)"
		args = append(args, viewerID)
	}
	q, inArgs, err := in(ex, query+" ORDER BY s.module_id, s.position, s.id", args...)
	if err != nil {
		return nil, err
	}
	if err = sqlx.SelectContext(ctx, ex, &submodules, q, inArgs...); err != nil {
		return nil, errors.Wrap(err, "selecting submodules")
	}
	return submodules, nil
}

// Lessons

func (repo trainingRepository) CreateLesson(ctx context.Context, l training.Lesson, exec ...core.DBExecutor) (training.Lesson, error) {
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `
		INSERT INTO lessons (submodule_id, title, content, video_url, file_key, position) VALUES (?, ?, ?, ?, ?, ?)`,
		l.SubmoduleID, l.Title, l.Content, l.VideoURL, l.FileKey, l.Position,
	)
	if err != nil {
		return training.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return repo.GetLessonByID(ctx, id, ex)
}

func (repo trainingRepository) UpdateLesson(ctx context.Context, l training.Lesson, exec ...core.DBExecutor) (training.Lesson, error) {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`
		UPDATE lessons SET title = ?, content = ?, video_url = ?, file_key = ?, position = ? WHERE id = ?`),
		l.Title, l.Content, l.VideoURL, l.FileKey, l.Position, l.ID,
	)
	if err != nil {
		return training.Lesson{}, errors.Wrap(err, "updating lesson")
	}
	if err = affectedOne(res, training.ErrLessonNotFound); err != nil {
		return training.Lesson{}, err
	}
	return repo.GetLessonByID(ctx, l.ID, ex)
}

func (repo trainingRepository) GetLessonByID(ctx context.Context, id int, exec ...core.DBExecutor) (training.Lesson, error) {
	var l training.Lesson
	err := getOne(ctx, repo.getExec(exec), &l, training.ErrLessonNotFound, "SELECT "+lessonColumns+" FROM lessons l WHERE l.id = ?", id)
	return l, err
}

func (repo trainingRepository) GetLessons(ctx context.Context, submoduleIDs []int, exec ...core.DBExecutor) ([]training.Lesson, error) {
	lessons := make([]training.Lesson, 0)
	if len(submoduleIDs) == 0 {
		return lessons, nil
	}
	ex := repo.getExec(exec)
	q, args, err := in(ex, "SELECT "+lessonColumns+" FROM lessons l WHERE l.submodule_id IN (?) ORDER BY l.submodule_id, l.position, l.id", submoduleIDs)
	if err != nil {
		return nil, err
	}
	if err = sqlx.SelectContext(ctx, ex, &lessons, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting lessons")
	}
	return lessons, nil
}

// Permissions

func (repo trainingRepository) Exists(ctx context.Context, node training.Node, exec ...core.DBExecutor) (bool, error) {
	s, err := schemaOf(node.Level)
	if err != nil {
		return false, err
	}
	n, err := count(ctx, repo.getExec(exec), "SELECT COUNT(*) FROM "+s.table+" WHERE id = ?", node.ID)
	return n > 0, err
}

func (repo trainingRepository) HasPermission(ctx context.Context, node training.Node, userID int, exec ...core.DBExecutor) (bool, error) {
	s, err := schemaOf(node.Level)
	if err != nil {
		return false, err
	}
	n, err := count(ctx, repo.getExec(exec),
		"SELECT COUNT(*) FROM "+s.permTable+" WHERE "+s.permColumn+" = ? AND user_id = ?", node.ID, userID)
	return n > 0, err
}

func (repo trainingRepository) PermittedUserIDs(ctx context.Context, node training.Node, exec ...core.DBExecutor) ([]int, error) {
	s, err := schemaOf(node.Level)
	if err != nil {
		return nil, err
	}
	ex := repo.getExec(exec)
	ids := make([]int, 0)
	q := ex.Rebind("SELECT user_id FROM " + s.permTable + " WHERE " + s.permColumn + " = ? ORDER BY user_id")
	if err = sqlx.SelectContext(ctx, ex, &ids, q, node.ID); err != nil {
		return nil, errors.Wrapf(err, "selecting %s permissions", node.Level)
	}
	return ids, nil
}

func (repo trainingRepository) ChildIDs(ctx context.Context, node training.Node, exec ...core.DBExecutor) ([]int, error) {
	s, err := schemaOf(node.Level)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0)
	if s.childTable == "" {
		return ids, nil
	}
	ex := repo.getExec(exec)
	q := ex.Rebind("SELECT id FROM " + s.childTable + " WHERE " + s.childColumn + " = ? ORDER BY id")
	if err = sqlx.SelectContext(ctx, ex, &ids, q, node.ID); err != nil {
		return nil, errors.Wrapf(err, "selecting %s children", node.Level)
	}
	return ids, nil
}

func (repo trainingRepository) GrantPermissions(ctx context.Context, node training.Node, userIDs []int, exec ...core.DBExecutor) error {
	s, err := schemaOf(node.Level)
	if err != nil {
		return err
	}
	ex := repo.getExec(exec)
	q := ex.Rebind("INSERT INTO " + s.permTable + " (user_id, " + s.permColumn + ") VALUES (?, ?) ON CONFLICT DO NOTHING")
	for _, uid := range userIDs {
		if _, err = ex.ExecContext(ctx, q, uid, node.ID); err != nil {
			return errors.Wrapf(err, "granting user %d", uid)
		}
	}
	return nil
}

func (repo trainingRepository) RevokePermissions(ctx context.Context, node training.Node, userIDs []int, exec ...core.DBExecutor) error {
	if len(userIDs) == 0 {
		return nil
	}
	s, err := schemaOf(node.Level)
	if err != nil {
		return err
	}
	ex := repo.getExec(exec)
	q, args, err := in(ex, "DELETE FROM "+s.permTable+" WHERE "+s.permColumn+" = ? AND user_id IN (?)", node.ID, userIDs)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, q, args...)
	return errors.Wrap(err, "deleting permissions")
}

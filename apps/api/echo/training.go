package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/training"
)

type trainingApi struct {
	svc      training.Service
	validate *validator.Validate
	files    *fileResolver
}

func registerTrainingAPI(e *echo.Echo, jwt echo.MiddlewareFunc, deps ServerDeps, files *fileResolver) {
	api := trainingApi{
		svc:      deps.TrainingSvc,
		validate: deps.Validate,
		files:    files,
	}

	tg := e.Group("/trainings-admin", jwt, adminOnly)
	tg.POST("", api.createTraining)
	tg.GET("", api.queryTrainings)
	tg.GET("/:id", api.retrieveTraining)
	tg.PUT("/:id", api.updateTraining)
	tg.GET("/permissions/:id", api.permissions(training.LevelTraining))
	tg.PATCH("/permissions/:id", api.updatePermissions(training.LevelTraining))

	mg := e.Group("/training-modules-admin", jwt, adminOnly)
	mg.POST("", api.createModule)
	mg.PUT("/:id", api.updateModule)
	mg.GET("/permissions/:id", api.permissions(training.LevelModule))
	mg.PATCH("/permissions/:id", api.updatePermissions(training.LevelModule))

	sg := e.Group("/training-submodules-admin", jwt, adminOnly)
	sg.POST("", api.createSubmodule)
	sg.PUT("/:id", api.updateSubmodule)
	sg.GET("/permissions/:id", api.permissions(training.LevelSubmodule))
	sg.PATCH("/permissions/:id", api.updatePermissions(training.LevelSubmodule))

	lg := e.Group("/lessons-admin", jwt, adminOnly)
	lg.POST("", api.createLesson)
	lg.PUT("/:id", api.updateLesson)
	lg.POST("/:id/file", api.uploadLessonFile)

	// viewers
	vg := e.Group("/trainings", jwt)
	vg.GET("", api.queryVisible)
	vg.GET("/:id", api.retrieveVisible)
	vg.GET("/submodules/:id/lessons", api.queryLessons)
}

// Admin handlers

func (api *trainingApi) createTraining(ctx echo.Context) error {
	var data training.NewTraining
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTraining")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	t, err := api.svc.CreateTraining(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating training")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *trainingApi) queryTrainings(ctx echo.Context) error {
	page := bindPage(ctx)
	ts, total, err := api.svc.QueryTrainings(ctx.Request().Context(), page)
	if err != nil {
		return errors.Wrap(err, "querying trainings")
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(ts, total, page))
}

func (api *trainingApi) retrieveTraining(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	t, err := api.svc.Tree(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting training tree")
	}
	return ctx.JSON(http.StatusOK, api.withFileURLs(ctx, t))
}

func (api *trainingApi) updateTraining(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data training.NewTraining
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTraining")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	t, err := api.svc.UpdateTraining(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating training")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *trainingApi) createModule(ctx echo.Context) error {
	var data training.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.CreateModule(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *trainingApi) updateModule(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data training.UpdateSection
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSection")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.UpdateModule(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *trainingApi) createSubmodule(ctx echo.Context) error {
	var data training.NewSubmodule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmodule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	s, err := api.svc.CreateSubmodule(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating submodule")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *trainingApi) updateSubmodule(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data training.UpdateSection
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSection")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	s, err := api.svc.UpdateSubmodule(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating submodule")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *trainingApi) createLesson(ctx echo.Context) error {
	var data training.NewLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	l, err := api.svc.CreateLesson(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *trainingApi) updateLesson(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data training.UpdateLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLesson")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	l, err := api.svc.UpdateLesson(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating lesson")
	}
	return ctx.JSON(http.StatusOK, api.withFileURL(ctx, l))
}

func (api *trainingApi) uploadLessonFile(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	if _, err = api.svc.GetLesson(reqCtx, id); err != nil {
		return errors.Wrap(err, "finding lesson by ID")
	}

	key, err := api.files.upload(ctx, "lessons", "")
	if err != nil {
		return err
	}
	l, err := api.svc.SetLessonFile(reqCtx, id, key)
	if err != nil {
		return errors.Wrap(err, "setting lesson file")
	}
	return ctx.JSON(http.StatusOK, api.withFileURL(ctx, l))
}

func (api *trainingApi) permissions(level training.Level) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := paramID(ctx)
		if err != nil {
			return err
		}
		ids, err := api.svc.Permissions(ctx.Request().Context(), training.Node{Level: level, ID: id})
		if err != nil {
			return errors.Wrapf(err, "listing %s permissions", level)
		}
		return ctx.JSON(http.StatusOK, newPermissionsResponse(ids))
	}
}

// updatePermissions grants & revokes the permission links of a node, cascading to its
// descendants when `addRelatives` is set.
func (api *trainingApi) updatePermissions(level training.Level) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := paramID(ctx)
		if err != nil {
			return err
		}
		var data training.PermissionChange
		if err = ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to PermissionChange")
		}
		if err = api.validate.Struct(&data); err != nil {
			return err
		}

		reqCtx := ctx.Request().Context()
		node := training.Node{Level: level, ID: id}
		if err = api.svc.UpdatePermissions(reqCtx, node, data); err != nil {
			return errors.Wrapf(err, "updating %s permissions", level)
		}
		ids, err := api.svc.Permissions(reqCtx, node)
		if err != nil {
			return errors.Wrapf(err, "listing %s permissions", level)
		}
		return ctx.JSON(http.StatusOK, newPermissionsResponse(ids))
	}
}

// Viewer handlers

func (api *trainingApi) queryVisible(ctx echo.Context) error {
	viewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	page := bindPage(ctx)
	ts, total, err := api.svc.QueryVisible(ctx.Request().Context(), viewer, page)
	if err != nil {
		return errors.Wrap(err, "querying visible trainings")
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(ts, total, page))
}

func (api *trainingApi) retrieveVisible(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	viewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	t, err := api.svc.VisibleTree(ctx.Request().Context(), viewer, id)
	if err != nil {
		return errors.Wrap(err, "getting visible training tree")
	}
	return ctx.JSON(http.StatusOK, api.withFileURLs(ctx, t))
}

func (api *trainingApi) queryLessons(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	viewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	lessons, err := api.svc.Lessons(ctx.Request().Context(), viewer, id)
	if err != nil {
		return errors.Wrap(err, "listing lessons")
	}
	for i := range lessons {
		lessons[i] = api.withFileURL(ctx, lessons[i])
	}
	if lessons == nil {
		lessons = []training.Lesson{}
	}
	return ctx.JSON(http.StatusOK, lessons)
}

func (api *trainingApi) withFileURL(ctx echo.Context, l training.Lesson) training.Lesson {
	l.FileURL = api.files.signedURL(ctx.Request().Context(), l.FileKey)
	return l
}

func (api *trainingApi) withFileURLs(ctx echo.Context, t training.Training) training.Training {
	for i := range t.Modules {
		for j := range t.Modules[i].Submodules {
			lessons := t.Modules[i].Submodules[j].Lessons
			for k := range lessons {
				lessons[k] = api.withFileURL(ctx, lessons[k])
			}
		}
	}
	return t
}

type PermissionsResponse struct {
	Users []int `json:"users"`
}

func newPermissionsResponse(ids []int) PermissionsResponse {
	if ids == nil {
		ids = []int{}
	}
	return PermissionsResponse{Users: ids}
}

package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

var errUsrNotFoundInCtx = errors.New("user object not found in echo.Context")

type userApi struct {
	svc      user.Service
	validate *validator.Validate
	files    *fileResolver
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps, files *fileResolver) {
	api := userApi{
		svc:      deps.UserSvc,
		validate: deps.Validate,
		files:    files,
	}

	ag := g.Group("", jwt)
	ag.POST("", api.create, adminOnly)
	ag.GET("", api.query, adminOnly)
	ag.GET("/profiles", api.queryProfiles)
	ag.PATCH("/:id/activate", api.activate, adminOnly)
	ag.PATCH("/:id/deactivate", api.deactivate, adminOnly)

	// detail endpoints
	dg := ag.Group("/:id", ctxUserOrAdminMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.POST("/photo", api.uploadPhoto)
}

// Handlers

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	reqCtx := ctx.Request().Context()
	if err := data.Validate(reqCtx, api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Create(reqCtx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, api.withPhoto(ctx, usr))
}

func (api *userApi) query(ctx echo.Context) error {
	var filter user.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	page := bindPage(ctx)

	users, total, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings, page)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	for i := range users {
		users[i] = api.withPhoto(ctx, users[i])
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(users, total, page))
}

func (api *userApi) queryProfiles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Profiles)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, api.withPhoto(ctx, usr))
}

func (api *userApi) update(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}

	ctxUsr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// `Profile` can only be changed by admin
	if !ctxUsr.IsAdmin() && data.Profile != "" && data.Profile != usr.Profile {
		return errHttpForbidden
	}

	reqCtx := ctx.Request().Context()
	if err = data.Validate(reqCtx, usr, api.validate, api.svc); err != nil {
		return err
	}

	usr, err = api.svc.Update(reqCtx, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, api.withPhoto(ctx, usr))
}

func (api *userApi) activate(ctx echo.Context) error {
	return api.setStatus(ctx, user.StatusActive)
}

func (api *userApi) deactivate(ctx echo.Context) error {
	return api.setStatus(ctx, user.StatusInactive)
}

func (api *userApi) setStatus(ctx echo.Context, status user.Status) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}

	// Say No to Suicide! ctxUser cannot deactivate themselves
	ctxUsr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if id == ctxUsr.ID && status == user.StatusInactive {
		return errHttpForbidden
	}

	usr, err := api.svc.SetStatus(ctx.Request().Context(), id, status)
	if err != nil {
		return errors.Wrap(err, "setting user status")
	}
	return ctx.JSON(http.StatusOK, api.withPhoto(ctx, usr))
}

func (api *userApi) uploadPhoto(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	key, err := api.files.upload(ctx, "photos", "image/")
	if err != nil {
		return err
	}
	usr, err = api.svc.SetPhoto(ctx.Request().Context(), usr.ID, key)
	if err != nil {
		return errors.Wrap(err, "setting user photo")
	}
	return ctx.JSON(http.StatusOK, api.withPhoto(ctx, usr))
}

func (api *userApi) withPhoto(ctx echo.Context, usr user.User) user.User {
	usr.Photo = api.files.signedURL(ctx.Request().Context(), usr.PhotoKey)
	return usr
}

package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/meeting"
)

type meetingApi struct {
	svc      meeting.Service
	validate *validator.Validate
}

func registerMeetingAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := meetingApi{
		svc:      deps.MeetingSvc,
		validate: deps.Validate,
	}

	ag := g.Group("", jwt)
	ag.POST("", api.create, adminOnly)
	ag.GET("", api.query, adminOnly)
	ag.GET("/mine", api.queryMine)
	ag.GET("/:id", api.retrieve)
	ag.PATCH("/:id/cancel", api.cancel, adminOnly)
	ag.PATCH("/:id/finish", api.finish, adminOnly)
}

func (api *meetingApi) create(ctx echo.Context) error {
	var data meeting.NewMeeting
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMeeting")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	creator, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	mtg, err := api.svc.Create(ctx.Request().Context(), creator, data)
	if err != nil {
		return errors.Wrap(err, "creating meeting")
	}
	return ctx.JSON(http.StatusCreated, mtg)
}

func (api *meetingApi) query(ctx echo.Context) error {
	filter, err := bindMeetingFilter(ctx)
	if err != nil {
		return err
	}
	page := bindPage(ctx)

	mtgs, total, err := api.svc.Query(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "querying meetings")
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(mtgs, total, page))
}

func (api *meetingApi) queryMine(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter, err := bindMeetingFilter(ctx)
	if err != nil {
		return err
	}
	page := bindPage(ctx)

	mtgs, total, err := api.svc.QueryForAttendee(ctx.Request().Context(), usr.ID, filter, page)
	if err != nil {
		return errors.Wrap(err, "querying attendee meetings")
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(mtgs, total, page))
}

// retrieve shows a meeting to admins and to its attendees.
func (api *meetingApi) retrieve(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	mtg, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding meeting by ID")
	}
	if !usr.IsAdmin() && !mtg.HasAttendee(usr.ID) {
		return meeting.ErrNotFound
	}
	return ctx.JSON(http.StatusOK, mtg)
}

func (api *meetingApi) cancel(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Cancel)
}

func (api *meetingApi) finish(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Finish)
}

func (api *meetingApi) transition(ctx echo.Context, apply func(ctx context.Context, id int) (meeting.Meeting, error)) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if _, err = apply(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "changing meeting status")
	}
	return ctx.JSON(http.StatusOK, StatusResponse{Success: true})
}

func bindMeetingFilter(ctx echo.Context) (meeting.QueryFilter, error) {
	var (
		filter meeting.QueryFilter
		err    error
	)
	filter.Status = meeting.Status(core.CleanString(ctx.QueryParam("status")))
	if filter.Status != "" && !filter.Status.IsValid() {
		return filter, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "invalid status"})
	}
	if filter.From, err = bindTime(ctx, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = bindTime(ctx, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

// StatusResponse reports the outcome of a status transition.
type StatusResponse struct {
	Success bool `json:"success"`
}

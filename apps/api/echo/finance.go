package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/finance"
)

// financeApi serves the entries of one finance.Kind.
type financeApi struct {
	kind     finance.Kind
	svc      finance.Service
	validate *validator.Validate
}

func registerFinanceAPI(e *echo.Echo, jwt echo.MiddlewareFunc, deps ServerDeps) {
	routes := []struct {
		prefix     string
		kind       finance.Kind
		settlePath string
	}{
		{"/payments", finance.KindPayment, "/:id/pay"},
		{"/payment-requests", finance.KindPaymentRequest, "/:id/approve"},
		{"/refunds", finance.KindRefund, "/:id/approve"},
	}

	for _, r := range routes {
		api := &financeApi{kind: r.kind, svc: deps.FinanceSvc, validate: deps.Validate}

		g := e.Group(r.prefix, jwt)
		if r.kind == finance.KindPayment {
			g.POST("", api.create, adminOnly)
		} else {
			g.POST("", api.create)
		}
		g.GET("", api.query)
		g.GET("/:id", api.retrieve)
		g.PATCH(r.settlePath, api.settle, adminOnly)
		g.PATCH("/:id/cancel", api.cancel, adminOnly)
	}
}

func (api *financeApi) create(ctx echo.Context) error {
	var data finance.NewEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrapf(err, "binding to NewEntry (%s)", api.kind)
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	creator, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	entry, err := api.svc.Create(ctx.Request().Context(), api.kind, creator, data)
	if err != nil {
		return errors.Wrapf(err, "creating %s", api.kind)
	}
	return ctx.JSON(http.StatusCreated, entry)
}

func (api *financeApi) query(ctx echo.Context) error {
	var filter finance.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Status = finance.Status(core.CleanString(string(filter.Status)))
	page := bindPage(ctx)

	viewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	entries, total, err := api.svc.Query(ctx.Request().Context(), api.kind, viewer, filter, page)
	if err != nil {
		return errors.Wrapf(err, "querying %s entries", api.kind)
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(entries, total, page))
}

// retrieve shows an entry to admins and to the user it is recorded for.
func (api *financeApi) retrieve(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	viewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	entry, err := api.svc.GetByID(ctx.Request().Context(), api.kind, id)
	if err != nil {
		return errors.Wrapf(err, "finding %s by ID", api.kind)
	}
	if !viewer.IsAdmin() && entry.UserID != viewer.ID {
		return finance.NotFoundError(api.kind)
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (api *financeApi) settle(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	entry, err := api.svc.Settle(ctx.Request().Context(), api.kind, id)
	if err != nil {
		return errors.Wrapf(err, "settling %s", api.kind)
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (api *financeApi) cancel(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data finance.CancelEntry
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CancelEntry")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	entry, err := api.svc.Cancel(ctx.Request().Context(), api.kind, id, data)
	if err != nil {
		return errors.Wrapf(err, "cancelling %s", api.kind)
	}
	return ctx.JSON(http.StatusOK, entry)
}

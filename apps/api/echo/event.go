package echoapi

import (
	"fmt"
	"net/http"

	ics "github.com/arran4/golang-ical"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulesoft/ratiba/core/event"
)

type eventApi struct {
	svc        *event.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerEventAPI(
	g *echo.Group,
	svc *event.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := eventApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	eg := g.Group("/events")
	eg.POST("", api.create)
	eg.GET("", api.query)
	eg.GET("/export.ics", api.exportICS)

	dg := eg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
}

// Handlers

func (api *eventApi) create(ctx echo.Context) error {
	var data event.NewEvent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	evt, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating event")
	}
	return ctx.JSON(http.StatusCreated, evt)
}

func (api *eventApi) query(ctx echo.Context) error {
	var filter event.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	instances, err := api.svc.QueryWindow(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying events")
	}
	return ctx.JSON(http.StatusOK, instances)
}

func (api *eventApi) retrieve(ctx echo.Context) error {
	evt, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == event.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting event")
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (api *eventApi) update(ctx echo.Context) error {
	var data event.UpdateEvent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEvent")
	}

	id := ctx.Param("id")
	orig, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		if errors.Cause(err) == event.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting event")
	}
	if err = data.Validate(api.validate, orig); err != nil {
		return err
	}

	evt, err := api.svc.Update(ctx.Request().Context(), id, ctx.QueryParam("scope"), data)
	if err != nil {
		return errors.Wrap(err, "updating event")
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (api *eventApi) destroy(ctx echo.Context) error {
	err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), ctx.QueryParam("scope"))
	if err != nil {
		return errors.Wrap(err, "deleting event")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// exportICS serializes the materialized window as an iCalendar feed.
func (api *eventApi) exportICS(ctx echo.Context) error {
	var filter event.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	instances, err := api.svc.QueryWindow(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying events")
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	for _, inst := range instances {
		ev := cal.AddEvent(fmt.Sprintf("%s/%d", inst.EventID, inst.StartDate.Unix()))
		ev.SetStartAt(inst.StartDate)
		ev.SetEndAt(inst.EndDate)
		ev.SetSummary(inst.Title)
		if inst.Description != "" {
			ev.SetDescription(inst.Description)
		}
		if inst.Location != "" {
			ev.SetLocation(inst.Location)
		}
	}
	return ctx.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(cal.Serialize()))
}

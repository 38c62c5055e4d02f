package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/middleware"
	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
)

var errNoUser = errors.New("invalid user_id in context")

// getUserID returns the authenticated user id set by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	if uid, ok := middleware.UserID(c); ok && uid > 0 {
		return uid, nil
	}
	return 0, errNoUser
}

// requestMeta collects the audit fields of the calling request.
func requestMeta(c echo.Context, performedBy uint64) model.RequestMeta {
	return model.RequestMeta{
		PerformedBy: performedBy,
		IPAddress:   c.RealIP(),
		UserAgent:   c.Request().UserAgent(),
	}
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// queryInt returns the integer query parameter or def when it is missing or
// malformed.
func queryInt(c echo.Context, name string, def int) int {
	s := strings.TrimSpace(c.QueryParam(name))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// paged is the listing envelope shared by every paginated endpoint.
type paged struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// errorStatus maps a domain or store error to its HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrReservationNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateReservation),
		errors.Is(err, service.ErrBedOccupied),
		errors.Is(err, service.ErrRoomFull),
		errors.Is(err, service.ErrRoomBusy),
		errors.Is(err, service.ErrRoomOccupied),
		errors.Is(err, service.ErrRoomGenderLocked),
		errors.Is(err, service.ErrCapacityBelowBed),
		errors.Is(err, service.ErrRoomsExist),
		errors.Is(err, repository.ErrRoomNumberExists),
		errors.Is(err, repository.ErrEmailExists),
		errors.Is(err, repository.ErrNationalIDExists),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidBedNumber),
		errors.Is(err, service.ErrGenderMismatch),
		errors.Is(err, service.ErrNotActive),
		errors.Is(err, service.ErrNoAssignment),
		errors.Is(err, service.ErrAlreadyCheckedIn),
		errors.Is(err, service.ErrNotCheckedIn),
		errors.Is(err, service.ErrAlreadyCheckedOut):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": "..."}. Internal failures never leak
// the underlying store message.
func writeError(c echo.Context, err error, fallback string) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		return c.JSON(status, echo.Map{"error": fallback})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

// bindValid binds the request body into req and runs the registered
// validator. When ok is false the 400 response has already been written.
func bindValid(c echo.Context, req any) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fieldErrors(err)})
	}
	return true, nil
}

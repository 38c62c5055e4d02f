package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
)

// ReservationHandler serves the reservation endpoints of students and the
// admin reservation desk. Every write goes through the allocator, which
// keeps the reservation row, the room's occupant list and the user's room
// assignment in step; the repositories are only read here. All methods
// assume JWTAuth and the role guard already ran and answer 401 when the
// user id is missing from the context.
type ReservationHandler struct {
	Alloc        *service.Allocator
	Gate         *service.Gate
	Reservations *repository.ReservationRepo
	History      *repository.HistoryRepo
}

func NewReservationHandler(alloc *service.Allocator, gate *service.Gate, res *repository.ReservationRepo, hist *repository.HistoryRepo) *ReservationHandler {
	return &ReservationHandler{Alloc: alloc, Gate: gate, Reservations: res, History: hist}
}

type createReservationReq struct {
	RoomID          uint64 `json:"room_id" validate:"required"`
	BedNumber       int    `json:"bed_number" validate:"required,min=1"`
	SpecialRequests string `json:"special_requests" validate:"max=500"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// checkGate writes 403 when the reservation window is closed. A missing
// settings row leaves the gate open.
func (h *ReservationHandler) checkGate(c echo.Context, ctx context.Context) (bool, error) {
	st, err := h.Gate.Status(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, c.JSON(http.StatusInternalServerError, echo.Map{"error": "load reservation settings failed"})
	}
	if !st.Open {
		return false, c.JSON(http.StatusForbidden, echo.Map{
			"error":           "reservations are not open yet",
			"open_date_time":  st.OpenAt,
			"time_until_open": st.TimeUntilOpen.Milliseconds(),
		})
	}
	return true, nil
}

// Create handles POST /v1/reservations. The reservation window is checked
// before the body is read: while it is closed the response is 403 with
// open_date_time and time_until_open (milliseconds). The body carries
// room_id, bed_number and optional special_requests. On success it
// returns 201 with the reservation, its room and the user summary. A
// second active reservation, a taken bed or a full room answer 409; a
// bed outside the room or a gender mismatch answers 400.
func (h *ReservationHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if ok, err := h.checkGate(c, ctx); !ok {
		return err
	}
	var req createReservationReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}

	view, err := h.Alloc.CreateReservation(ctx, uid, req.RoomID, req.BedNumber,
		strings.TrimSpace(req.SpecialRequests), requestMeta(c, uid))
	if err != nil {
		return writeError(c, err, "create reservation failed")
	}
	return c.JSON(http.StatusCreated, view)
}

// My handles GET /v1/reservations/my and returns the caller's active
// reservation with room details, or 404 when there is none.
func (h *ReservationHandler) My(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Reservations.FindActiveByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load reservation failed"})
	}
	if res == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active reservation"})
	}
	view, err := h.Reservations.GetView(ctx, res.ID)
	if err != nil {
		return writeError(c, err, "load reservation failed")
	}
	return c.JSON(http.StatusOK, view)
}

// Cancel handles DELETE /v1/reservations/:id. Users may cancel only their
// own reservation and get 403 otherwise; admins may cancel any. The
// optional body {"reason": "..."} is stored on the reservation and in the
// history row. A cancellation that stopped half way still answers 500 and
// is left to the repair sweep.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var req cancelReq
	_ = c.Bind(&req)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load reservation failed"})
	}
	admin := isAdmin(c)
	if res.UserID != uid && !admin {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by user"
		if admin && res.UserID != uid {
			reason = service.ReasonAdminCancel
		}
	}
	if err := h.Alloc.CancelReservation(ctx, id, uid, reason, requestMeta(c, uid)); err != nil {
		return writeError(c, err, "cancel reservation failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": model.StatusCancelled})
}

// CancelMine handles DELETE /v1/reservations/my. It cancels the caller's
// active reservation without needing its id and answers 404 when there is
// none.
func (h *ReservationHandler) CancelMine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req cancelReq
	_ = c.Bind(&req)
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by user"
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Reservations.FindActiveByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load reservation failed"})
	}
	if res == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active reservation"})
	}
	if err := h.Alloc.CancelReservation(ctx, res.ID, uid, reason, requestMeta(c, uid)); err != nil {
		return writeError(c, err, "cancel reservation failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"id": res.ID, "status": model.StatusCancelled})
}

// MyHistory: GET /v1/reservations/history?limit=
func (h *ReservationHandler) MyHistory(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	entries, err := h.History.ListByUser(ctx, uid, queryInt(c, "limit", 20))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load history failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}

func reservationFilter(c echo.Context) model.ReservationFilter {
	return model.ReservationFilter{
		Status: strings.TrimSpace(c.QueryParam("status")),
		RoomID: uint64(queryInt(c, "room_id", 0)),
		UserID: uint64(queryInt(c, "user_id", 0)),
		Floor:  queryInt(c, "floor", 0),
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", 20),
	}
}

// AdminList handles GET /v1/admin/reservations. Filters are status,
// room_id, user_id and floor; page and limit paginate. The response is the
// paged envelope with reservation views.
func (h *ReservationHandler) AdminList(c echo.Context) error {
	f := reservationFilter(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	views, total, err := h.Reservations.List(ctx, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list reservations failed"})
	}
	return c.JSON(http.StatusOK, paged{Items: views, Total: total, Page: f.Page, Limit: f.Limit})
}

// AdminStats: GET /v1/admin/reservations/stats
func (h *ReservationHandler) AdminStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Reservations.Stats(ctx, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reservation stats failed"})
	}
	return c.JSON(http.StatusOK, s)
}

// CheckIn handles POST /v1/admin/reservations/:id/check-in. It stamps the
// arrival time on an active reservation and answers 400 when the
// reservation is already checked in.
func (h *ReservationHandler) CheckIn(c echo.Context) error {
	return h.stay(c, h.Alloc.CheckIn)
}

// CheckOut: POST /v1/admin/reservations/:id/check-out
func (h *ReservationHandler) CheckOut(c echo.Context) error {
	return h.stay(c, h.Alloc.CheckOut)
}

type stayFunc func(ctx context.Context, id, adminID uint64, meta model.RequestMeta) (*model.Reservation, error)

func (h *ReservationHandler) stay(c echo.Context, fn stayFunc) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := fn(ctx, id, adminID, requestMeta(c, adminID))
	if err != nil {
		return writeError(c, err, "update reservation failed")
	}
	return c.JSON(http.StatusOK, res)
}

// RoomHistory: GET /v1/admin/rooms/:id/history?limit=
func (h *ReservationHandler) RoomHistory(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	entries, err := h.History.ListByRoom(ctx, id, queryInt(c, "limit", 50))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load history failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/middleware"
	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

// RoomHandler serves room browsing for everyone and room management for
// admins. Public listings are served through the response cache and never
// expose occupant ids; admin routes see the full bed grid. Mutations that
// touch occupants (update, deactivate, delete, initialize) go through the
// allocator so they take the room lease, and every mutation purges the
// cached listings.
type RoomHandler struct {
	Rooms *repository.RoomRepo
	Alloc *service.Allocator
	Cache *middleware.ResponseCache
}

func NewRoomHandler(rooms *repository.RoomRepo, alloc *service.Allocator, cache *middleware.ResponseCache) *RoomHandler {
	if rooms == nil || alloc == nil {
		panic("nil dependency passed to NewRoomHandler")
	}
	return &RoomHandler{Rooms: rooms, Alloc: alloc, Cache: cache}
}

type bedStatus struct {
	BedNumber int     `json:"bed_number"`
	Occupied  bool    `json:"occupied"`
	UserID    *uint64 `json:"user_id,omitempty"`
}

type roomResp struct {
	model.Room
	Beds           []bedStatus `json:"beds"`
	AvailableBeds  []int       `json:"available_beds"`
	OccupiedCount  int         `json:"occupied_count"`
	AvailableCount int         `json:"available_count"`
}

// roomView expands the bed grid. Occupant ids are only shown to admins.
func roomView(rm model.Room, admin bool) roomResp {
	beds := make([]bedStatus, rm.Capacity)
	for i := range beds {
		beds[i].BedNumber = i + 1
	}
	for _, o := range rm.Occupants {
		if o.BedNumber < 1 || o.BedNumber > rm.Capacity {
			continue
		}
		b := &beds[o.BedNumber-1]
		b.Occupied = true
		if admin {
			uid := o.UserID
			b.UserID = &uid
		}
	}
	free := rm.AvailableBeds()
	if !admin {
		rm.Occupants = nil
	}
	return roomResp{
		Room:           rm,
		Beds:           beds,
		AvailableBeds:  free,
		OccupiedCount:  rm.Capacity - len(free),
		AvailableCount: len(free),
	}
}

func isAdmin(c echo.Context) bool {
	role, _ := middleware.Role(c)
	return role == utils.RoleAdmin
}

// List handles GET /v1/rooms. Query filters are floor, capacity, gender
// and available=true (rooms with at least one free bed); sort is one of
// room_number, floor or capacity. Admins may add include_inactive=true.
// Returns the paged envelope of rooms with their bed grid.
func (h *RoomHandler) List(c echo.Context) error {
	f := model.RoomFilter{
		Floor:         queryInt(c, "floor", 0),
		Capacity:      queryInt(c, "capacity", 0),
		Gender:        strings.TrimSpace(c.QueryParam("gender")),
		AvailableOnly: c.QueryParam("available") == "true",
		Sort:          c.QueryParam("sort"),
		Page:          queryInt(c, "page", 1),
		Limit:         queryInt(c, "limit", 50),
	}
	admin := isAdmin(c)
	f.IncludeInactive = admin && c.QueryParam("include_inactive") == "true"

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rooms, total, err := h.Rooms.List(ctx, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list rooms failed"})
	}
	items := make([]roomResp, 0, len(rooms))
	for _, rm := range rooms {
		items = append(items, roomView(rm, admin))
	}
	return c.JSON(http.StatusOK, paged{Items: items, Total: total, Page: f.Page, Limit: f.Limit})
}

// Get: GET /v1/rooms/:id
func (h *RoomHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rm, err := h.Rooms.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
	}
	admin := isAdmin(c)
	if !rm.IsActive && !admin {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	}
	return c.JSON(http.StatusOK, roomView(*rm, admin))
}

type createRoomReq struct {
	RoomNumber  string   `json:"room_number" validate:"required,max=10"`
	Floor       int      `json:"floor" validate:"required,min=1,max=10"`
	Capacity    int      `json:"capacity" validate:"required,room_capacity"`
	Gender      string   `json:"gender" validate:"required,oneof=M F shared"`
	Amenities   []string `json:"amenities" validate:"max=20,dive,max=30"`
	Description string   `json:"description" validate:"max=200"`
}

// Create: POST /v1/admin/rooms
func (h *RoomHandler) Create(c echo.Context) error {
	var req createRoomReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rm := &model.Room{
		RoomNumber:  strings.TrimSpace(req.RoomNumber),
		Floor:       req.Floor,
		Capacity:    req.Capacity,
		Gender:      req.Gender,
		Amenities:   req.Amenities,
		Description: strings.TrimSpace(req.Description),
		IsActive:    true,
	}
	if err := h.Rooms.Create(ctx, rm); err != nil {
		return writeError(c, err, "create room failed")
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusCreated, roomView(*rm, true))
}

type updateRoomReq struct {
	Floor       *int     `json:"floor" validate:"omitempty,min=1,max=10"`
	Capacity    *int     `json:"capacity" validate:"omitempty,room_capacity"`
	Gender      *string  `json:"gender" validate:"omitempty,oneof=M F shared"`
	Amenities   []string `json:"amenities" validate:"omitempty,max=20,dive,max=30"`
	Description *string  `json:"description" validate:"omitempty,max=200"`
	IsActive    *bool    `json:"is_active"`
}

// Update handles PUT /v1/admin/rooms/:id. Only the fields present in the
// body change. Changing the gender of an occupied room, or shrinking the
// capacity below an occupied bed, answers 409 and writes nothing. Setting
// is_active=false runs the same cascade as Deactivate. Returns the room as
// admins see it.
func (h *RoomHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	var req updateRoomReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	upd := repository.RoomUpdate{
		Floor:       req.Floor,
		Capacity:    req.Capacity,
		Gender:      req.Gender,
		Amenities:   req.Amenities,
		Description: req.Description,
	}
	if err := h.Alloc.UpdateRoom(ctx, id, upd); err != nil {
		return writeError(c, err, "update room failed")
	}
	if req.IsActive != nil {
		if *req.IsActive {
			err = h.Rooms.SetActive(ctx, id, true)
		} else {
			_, err = h.Alloc.DeactivateRoom(ctx, id, adminID, requestMeta(c, adminID))
		}
		if err != nil {
			return writeError(c, err, "update room failed")
		}
	}
	h.Cache.Purge(ctx)

	rm, err := h.Rooms.GetByID(ctx, id)
	if err != nil {
		return writeError(c, err, "load room failed")
	}
	return c.JSON(http.StatusOK, roomView(*rm, true))
}

// Deactivate: POST /v1/admin/rooms/:id/deactivate cancels every active
// reservation in the room and marks it inactive.
func (h *RoomHandler) Deactivate(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	released, err := h.Alloc.DeactivateRoom(ctx, id, adminID, requestMeta(c, adminID))
	h.Cache.Purge(ctx)
	if err != nil {
		return writeError(c, err, "deactivate room failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"room_id": id, "released": released})
}

// Activate: POST /v1/admin/rooms/:id/activate
func (h *RoomHandler) Activate(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Rooms.SetActive(ctx, id, true); err != nil {
		return writeError(c, err, "activate room failed")
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

// Delete handles DELETE /v1/admin/rooms/:id. A room with occupants or an
// active reservation answers 409. Cancelled reservations keep their room
// id and do not block the delete.
func (h *RoomHandler) Delete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Alloc.DeleteRoom(ctx, id); err != nil {
		return writeError(c, err, "delete room failed")
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

// Initialize: POST /v1/admin/rooms/initialize creates the default layout.
func (h *RoomHandler) Initialize(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	n, err := h.Alloc.InitializeRooms(ctx)
	if err != nil {
		return writeError(c, err, "initialize rooms failed")
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusCreated, echo.Map{"created": n})
}

// Stats: GET /v1/admin/rooms/stats
func (h *RoomHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Rooms.Stats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "room stats failed"})
	}
	return c.JSON(http.StatusOK, s)
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/middleware"
	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

// AdminUserHandler serves user management for admins: listing and search,
// profile edits, soft delete, direct room assignment and the consistency
// repair. National ids are decrypted only to build masked profiles and to
// match birth-date searches; plaintext never leaves the handler.
type AdminUserHandler struct {
	Users  *repository.UserRepo
	Tokens *repository.TokenRepo
	Rooms  *repository.RoomRepo
	Alloc  *service.Allocator
	Cipher *utils.NationalIDCipher
	Cache  *middleware.ResponseCache
}

func NewAdminUserHandler(users *repository.UserRepo, tokens *repository.TokenRepo, rooms *repository.RoomRepo,
	alloc *service.Allocator, nid *utils.NationalIDCipher, cache *middleware.ResponseCache) *AdminUserHandler {
	return &AdminUserHandler{Users: users, Tokens: tokens, Rooms: rooms, Alloc: alloc, Cipher: nid, Cache: cache}
}

const searchLimit = 10

var birthDateQuery = regexp.MustCompile(`^\d{6}$`)

// List: GET /v1/admin/users?q=&gender=&grade=&room_status=&page=&limit=
func (h *AdminUserHandler) List(c echo.Context) error {
	f := repository.UserFilter{
		Query:      c.QueryParam("q"),
		Gender:     c.QueryParam("gender"),
		Grade:      c.QueryParam("grade"),
		RoomStatus: c.QueryParam("room_status"),
		Page:       queryInt(c, "page", 1),
		Limit:      queryInt(c, "limit", 20),
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, total, err := h.Users.List(ctx, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list users failed"})
	}
	return c.JSON(http.StatusOK, paged{Items: h.profiles(users), Total: total, Page: f.Page, Limit: f.Limit})
}

func (h *AdminUserHandler) profiles(users []model.User) []profile {
	out := make([]profile, 0, len(users))
	for i := range users {
		out = append(out, maskedProfile(h.Cipher, &users[i]))
	}
	return out
}

// matchBirthDate returns the active users whose decrypted national id
// starts with prefix. Rows that fail to decrypt are skipped.
func matchBirthDate(nid *utils.NationalIDCipher, users []model.User, prefix string) []model.User {
	var out []model.User
	for _, u := range users {
		if !u.IsActive {
			continue
		}
		plain, err := nid.Decrypt(u.NationalIDEnc)
		if err != nil {
			continue
		}
		if utils.BirthDatePrefix(plain) == prefix {
			out = append(out, u)
		}
	}
	return out
}

// withoutAssigned drops users that currently hold an assigned bed.
func withoutAssigned(users []model.User) []model.User {
	out := users[:0:0]
	for _, u := range users {
		if u.RoomAssignment.Status == model.AssignmentAssigned && u.RoomAssignment.RoomNumber != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Search: GET /v1/admin/users/search?query=&exclude_assigned=true
// A six digit query is tried as a birth date first, then as name or email.
func (h *AdminUserHandler) Search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("query"))
	excludeAssigned := c.QueryParam("exclude_assigned") != "false"
	if len([]rune(q)) < 2 {
		return c.JSON(http.StatusOK, echo.Map{"count": 0, "items": []profile{}})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var found []model.User
	if birthDateQuery.MatchString(q) {
		all, err := h.Users.ListWithNationalID(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "search users failed"})
		}
		found = matchBirthDate(h.Cipher, all, q)
	}
	if len(found) == 0 {
		users, _, err := h.Users.List(ctx, repository.UserFilter{Query: q, Limit: 50})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "search users failed"})
		}
		for _, u := range users {
			if u.IsActive {
				found = append(found, u)
			}
		}
	}
	if excludeAssigned {
		found = withoutAssigned(found)
	}
	if len(found) > searchLimit {
		found = found[:searchLimit]
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(found), "items": h.profiles(found)})
}

// Get: GET /v1/admin/users/:id
func (h *AdminUserHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusOK, maskedProfile(h.Cipher, u))
}

type updateUserReq struct {
	Name                 *string `json:"name" validate:"omitempty,min=1,max=50"`
	Phone                *string `json:"phone" validate:"omitempty,phone"`
	GuardianPhone        *string `json:"guardian_phone" validate:"omitempty,phone"`
	GuardianRelationship *string `json:"guardian_relationship" validate:"omitempty,max=20"`
	Grade                *string `json:"grade" validate:"omitempty,oneof=1 2 3 T A"`
	ClassNumber          *int    `json:"class_number" validate:"omitempty,min=1,max=20"`
	SpecialRequests      *string `json:"special_requests" validate:"omitempty,max=500"`
	IsActive             *bool   `json:"is_active"`
}

// Update: PUT /v1/admin/users/:id edits profile fields. Room assignment and
// gender are not editable here.
func (h *AdminUserHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	var req updateUserReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	for _, p := range []*string{req.Phone, req.GuardianPhone} {
		if p != nil {
			*p = utils.DigitsOnly(*p)
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Users.UpdateProfile(ctx, id, repository.ProfileUpdate{
		Name:                 req.Name,
		Phone:                req.Phone,
		GuardianPhone:        req.GuardianPhone,
		GuardianRelationship: req.GuardianRelationship,
		Grade:                req.Grade,
		ClassNumber:          req.ClassNumber,
		SpecialRequests:      req.SpecialRequests,
		IsActive:             req.IsActive,
	})
	if err != nil {
		return writeError(c, err, "update user failed")
	}
	if req.IsActive != nil && !*req.IsActive {
		_ = h.Tokens.RevokeAllForUser(ctx, id)
	}
	return h.Get(c)
}

// Delete: DELETE /v1/admin/users/:id releases the user's bed, masks the
// account and revokes its sessions.
func (h *AdminUserHandler) Delete(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	if id == adminID {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot delete your own account"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Alloc.DeleteUser(ctx, id, adminID, requestMeta(c, adminID)); err != nil {
		return writeError(c, err, "delete user failed")
	}
	if err := h.Tokens.RevokeAllForUser(ctx, id); err != nil {
		c.Logger().Warnf("revoke tokens of deleted user %d: %v", id, err)
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

type assignRoomReq struct {
	RoomID     uint64 `json:"room_id" validate:"required_without=RoomNumber"`
	RoomNumber string `json:"room_number" validate:"required_without=RoomID"`
	BedNumber  int    `json:"bed_number" validate:"required,min=1"`
	Notes      string `json:"admin_notes" validate:"max=500"`
}

// AssignRoom handles PUT /v1/admin/users/:id/assign-room. The room is
// given by room_id or room_number and the bed by bed_number; admin_notes is
// kept on the reservation and its history row. It runs the same allocation
// as a student reservation but ignores the reservation window. Returns 200
// with the new reservation.
func (h *AdminUserHandler) AssignRoom(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	var req assignRoomReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	roomID := req.RoomID
	if roomID == 0 {
		rm, err := h.Rooms.GetByNumber(ctx, strings.TrimSpace(req.RoomNumber))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": service.ErrRoomNotFound.Error()})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load room failed"})
		}
		roomID = rm.ID
	}

	meta := requestMeta(c, adminID)
	meta.AdminNotes = strings.TrimSpace(req.Notes)
	view, err := h.Alloc.CreateReservation(ctx, id, roomID, req.BedNumber, "", meta)
	if err != nil {
		return writeError(c, err, "assign room failed")
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusOK, view)
}

// CancelAssignment: DELETE /v1/admin/users/:id/room-assignment
func (h *AdminUserHandler) CancelAssignment(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Alloc.CancelRoomAssignmentByAdmin(ctx, id, adminID, requestMeta(c, adminID)); err != nil {
		return writeError(c, err, "cancel assignment failed")
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

// Repair handles POST /v1/admin/users/repair-data-consistency. It runs the
// repair sweep and returns the per-sweep counters with their total. When
// some repairs failed it answers 500 together with the partial report.
func (h *AdminUserHandler) Repair(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	report, err := h.Alloc.RepairDataConsistency(ctx)
	h.Cache.Purge(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error":  "repair finished with errors",
			"report": report,
			"total":  report.Total(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"report": report, "total": report.Total()})
}

// SyncGender: POST /v1/admin/users/sync-gender rewrites the stored gender of
// users whose national id says otherwise.
func (h *AdminUserHandler) SyncGender(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Minute)
	defer cancel()

	users, err := h.Users.ListWithNationalID(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list users failed"})
	}
	updated, skipped := 0, 0
	for _, u := range users {
		plain, err := h.Cipher.Decrypt(u.NationalIDEnc)
		if err != nil {
			skipped++
			continue
		}
		g := utils.GenderFromNationalID(plain)
		if g == "" || g == u.Gender {
			continue
		}
		if err := h.Users.SetGender(ctx, u.ID, g); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update gender failed", "updated": updated})
		}
		updated++
	}
	return c.JSON(http.StatusOK, echo.Map{"checked": len(users), "updated": updated, "skipped": skipped})
}

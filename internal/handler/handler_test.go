package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/dorm-reservation/internal/config"
	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func newCtx(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrRoomNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", repository.ErrNotFound), http.StatusNotFound},
		{service.ErrBedOccupied, http.StatusConflict},
		{service.ErrDuplicateReservation, http.StatusConflict},
		{repository.ErrRoomNumberExists, http.StatusConflict},
		{service.ErrRoomGenderLocked, http.StatusConflict},
		{service.ErrCapacityBelowBed, http.StatusConflict},
		{service.ErrGenderMismatch, http.StatusBadRequest},
		{service.ErrInvalidBedNumber, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}

func TestWriteError_HidesInternalMessage(t *testing.T) {
	e := newEcho()
	c, rec := newCtx(e, http.MethodGet, "/", "")
	require.NoError(t, writeError(c, errors.New("dial tcp 10.0.0.1:3306"), "list failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "list failed", decode(t, rec)["error"])

	c, rec = newCtx(e, http.MethodGet, "/", "")
	require.NoError(t, writeError(c, service.ErrRoomFull, "create failed"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.ErrRoomFull.Error(), decode(t, rec)["error"])
}

func TestValidator_CustomTags(t *testing.T) {
	v := NewValidator()
	type tagged struct {
		Phone    string `json:"phone" validate:"phone"`
		Password string `json:"password" validate:"strong_password"`
		ID       string `json:"national_id" validate:"national_id"`
		Capacity int    `json:"capacity" validate:"room_capacity"`
	}
	require.NoError(t, v.Validate(&tagged{
		Phone: "010-1234-5678", Password: "abc123!", ID: "010203-3456789", Capacity: 4,
	}))

	err := v.Validate(&tagged{Phone: "12345", Password: "abcdef", ID: "0113003456789", Capacity: 5})
	require.Error(t, err)
	assert.Equal(t, map[string]string{
		"phone":       "phone",
		"password":    "strong_password",
		"national_id": "national_id",
		"capacity":    "room_capacity",
	}, fieldErrors(err))
}

func TestFieldErrors_NonValidationError(t *testing.T) {
	assert.Equal(t, map[string]string{"_": "boom"}, fieldErrors(errors.New("boom")))
}

func TestBindValid(t *testing.T) {
	e := newEcho()

	c, rec := newCtx(e, http.MethodPost, "/", `{"room_id":`)
	var req createReservationReq
	ok, err := bindValid(c, &req)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid body", decode(t, rec)["error"])

	c, rec = newCtx(e, http.MethodPost, "/", `{"room_id":3,"bed_number":0}`)
	ok, err = bindValid(c, &req)
	require.NoError(t, err)
	assert.False(t, ok)
	body := decode(t, rec)
	assert.Equal(t, "validation failed", body["error"])
	assert.Equal(t, map[string]any{"bed_number": "required"}, body["fields"])

	c, _ = newCtx(e, http.MethodPost, "/", `{"room_id":3,"bed_number":2}`)
	ok, err = bindValid(c, &req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), req.RoomID)
}

type staticSettings struct {
	s   *model.ReservationSettings
	err error
}

func (s staticSettings) Get(context.Context) (*model.ReservationSettings, error) { return s.s, s.err }

func gateAt(s staticSettings, now time.Time) *service.Gate {
	return service.NewGate(s, func() time.Time { return now })
}

func TestCreateReservation_GateClosed(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	h := &ReservationHandler{Gate: gateAt(staticSettings{s: &model.ReservationSettings{OpenAt: now.Add(time.Hour)}}, now)}

	e := newEcho()
	c, rec := newCtx(e, http.MethodPost, "/v1/reservations", `{"room_id":1,"bed_number":1}`)
	c.Set("user_id", uint64(5))
	require.NoError(t, h.Create(c))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "reservations are not open yet", body["error"])
	assert.Equal(t, float64(time.Hour.Milliseconds()), body["time_until_open"])
}

func TestCreateReservation_GateOpenStillValidates(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	cases := map[string]staticSettings{
		"manual":  {s: &model.ReservationSettings{OpenAt: now.Add(time.Hour), ManualOpen: true}},
		"elapsed":  {s: &model.ReservationSettings{OpenAt: now.Add(-time.Minute)}},
		"no row":  {err: repository.ErrNotFound},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			h := &ReservationHandler{Gate: gateAt(s, now)}
			e := newEcho()
			c, rec := newCtx(e, http.MethodPost, "/v1/reservations", `{"bed_number":1}`)
			c.Set("user_id", uint64(5))
			require.NoError(t, h.Create(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateReservation_Unauthenticated(t *testing.T) {
	h := &ReservationHandler{}
	e := newEcho()
	c, rec := newCtx(e, http.MethodPost, "/v1/reservations", `{}`)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoomView(t *testing.T) {
	rm := model.Room{
		ID: 1, RoomNumber: "101", Capacity: 4, Gender: model.GenderMale,
		Occupants: []model.Occupant{{UserID: 10, BedNumber: 2}, {UserID: 11, BedNumber: 4}},
	}

	pub := roomView(rm, false)
	assert.Nil(t, pub.Occupants)
	assert.Equal(t, []int{1, 3}, pub.AvailableBeds)
	assert.Equal(t, 2, pub.OccupiedCount)
	assert.Equal(t, 2, pub.AvailableCount)
	require.Len(t, pub.Beds, 4)
	assert.True(t, pub.Beds[1].Occupied)
	assert.Nil(t, pub.Beds[1].UserID)

	adm := roomView(rm, true)
	require.NotNil(t, adm.Beds[3].UserID)
	assert.Equal(t, uint64(11), *adm.Beds[3].UserID)
	assert.Len(t, adm.Occupants, 2)
}

func TestMatchBirthDate(t *testing.T) {
	nid, err := utils.NewNationalIDCipher("test-encryption-key", "test-index-key")
	require.NoError(t, err)
	enc := func(id string) string {
		s, err := nid.Encrypt(id)
		require.NoError(t, err)
		return s
	}
	users := []model.User{
		{ID: 1, IsActive: true, NationalIDEnc: enc("0102033456789")},
		{ID: 2, IsActive: true, NationalIDEnc: enc("0102034456789")},
		{ID: 3, IsActive: false, NationalIDEnc: enc("0102033000000")},
		{ID: 4, IsActive: true, NationalIDEnc: enc("9912311456789")},
		{ID: 5, IsActive: true, NationalIDEnc: "garbage"},
	}
	got := matchBirthDate(nid, users, "010203")
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, uint64(2), got[1].ID)
}

func TestWithoutAssigned(t *testing.T) {
	room := "201"
	users := []model.User{
		{ID: 1, RoomAssignment: model.PendingAssignment()},
		{ID: 2, RoomAssignment: model.RoomAssignment{Status: model.AssignmentAssigned, RoomNumber: &room}},
		{ID: 3, RoomAssignment: model.RoomAssignment{Status: model.AssignmentCheckedOut}},
	}
	got := withoutAssigned(users)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, uint64(3), got[1].ID)
	assert.Len(t, users, 3)
}

func TestBuildReservationWorkbook(t *testing.T) {
	in := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	views := []model.ReservationView{{
		Reservation: model.Reservation{
			ID: 9, BedNumber: 3, Status: model.StatusActive,
			ReservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ActualCheckIn: &in,
		},
		Room: model.RoomSummary{RoomNumber: "305", Floor: 3},
		User: model.UserSummary{Name: "Kim", Email: "kim@example.com", Gender: model.GenderFemale, Grade: "2"},
	}}

	data, err := BuildReservationWorkbook(views)
	require.NoError(t, err)

	f, err := excelize.OpenReader(strings.NewReader(string(data)))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{exportSheet}, f.GetSheetList())
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ReservationExportHeader, rows[0])
	assert.Equal(t, "305", rows[1][1])
	assert.Equal(t, "kim@example.com", rows[1][5])
	assert.Equal(t, "2026-03-02 08:30", rows[1][10])
}

func TestHealth(t *testing.T) {
	e := newEcho()
	c, rec := newCtx(e, http.MethodGet, "/healthz", "")
	require.NoError(t, Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func newAuthHandler(t *testing.T) *AuthHandler {
	nid, err := utils.NewNationalIDCipher("test-encryption-key", "test-index-key")
	require.NoError(t, err)
	return &AuthHandler{Cfg: config.Config{BcryptCost: 4}, Cipher: nid}
}

func TestRegister_Validation(t *testing.T) {
	h := newAuthHandler(t)
	e := newEcho()
	c, rec := newCtx(e, http.MethodPost, "/v1/auth/register", `{"name":"Lee","email":"not-an-email","password":"short"}`)
	require.NoError(t, h.Register(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	assert.Equal(t, "email", fields["email"])
	assert.Equal(t, "min", fields["password"])
	assert.Equal(t, "required", fields["national_id"])
}

func TestRegister_GenderMismatch(t *testing.T) {
	h := newAuthHandler(t)
	e := newEcho()
	body := `{"name":"Lee","email":"lee@example.com","password":"abcd1234!",
		"phone":"01012345678","guardian_phone":"01087654321","guardian_relationship":"mother",
		"grade":"1","gender":"F","national_id":"010203-3456789"}`
	c, rec := newCtx(e, http.MethodPost, "/v1/auth/register", body)
	require.NoError(t, h.Register(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "gender does not match national id", decode(t, rec)["error"])
}

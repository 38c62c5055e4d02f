package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const exportSheet = "Reservations"

// ReservationExportHeader is the first row of the export.
var ReservationExportHeader = []string{
	"Reservation ID",
	"Room",
	"Floor",
	"Bed",
	"Name",
	"Email",
	"Gender",
	"Grade",
	"Status",
	"Reserved At",
	"Check In",
	"Check Out",
	"Cancelled At",
	"Cancel Reason",
	"Special Requests",
}

var exportColumnWidths = []float64{14, 10, 8, 6, 18, 28, 8, 8, 12, 20, 20, 20, 20, 24, 30}

// ExportHandler renders reservations as an xlsx workbook.
type ExportHandler struct {
	Repo *repository.ReservationRepo
}

func NewExportHandler(res *repository.ReservationRepo) *ExportHandler {
	return &ExportHandler{Repo: res}
}

// Reservations: GET /v1/admin/reservations/export?status=&room_id=&floor=
func (h *ExportHandler) Reservations(c echo.Context) error {
	f := reservationFilter(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	views, err := h.Repo.ListAll(ctx, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list reservations failed"})
	}
	data, err := BuildReservationWorkbook(views)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "build export failed"})
	}
	name := fmt.Sprintf("reservations-%s.xlsx", time.Now().UTC().Format("20060102-1504"))
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+name)
	return c.Blob(http.StatusOK, xlsxMIME, data)
}

func timeCell(t *time.Time) any {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func exportRow(v model.ReservationView) []any {
	return []any{
		v.ID,
		v.Room.RoomNumber,
		v.Room.Floor,
		v.BedNumber,
		v.User.Name,
		v.User.Email,
		v.User.Gender,
		v.User.Grade,
		v.Status,
		timeCell(&v.ReservedAt),
		timeCell(v.ActualCheckIn),
		timeCell(v.ActualCheckOut),
		timeCell(v.CancelledAt),
		v.CancelReason,
		v.SpecialRequests,
	}
}

// BuildReservationWorkbook writes one row per reservation under a frozen,
// styled header row.
func BuildReservationWorkbook(views []model.ReservationView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	header := make([]any, len(ReservationExportHeader))
	for i, hd := range ReservationExportHeader {
		header[i] = hd
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(ReservationExportHeader), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	for i, w := range exportColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, v := range views {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := exportRow(v)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

type exportFormat int

const (
	exportXLSX exportFormat = iota
	exportPDF
)

func (h *AdminHandler) handleExport(w http.ResponseWriter, r *http.Request, format exportFormat) {
	list, err := h.service.List(r.Context(), readScope(r))
	if err != nil {
		respondCommandError(w, err)
		return
	}

	var (
		data []byte
		name string
		mime string
	)
	switch format {
	case exportPDF:
		data, err = BuildCommandsPDF(list)
		name = "commands.pdf"
		mime = "application/pdf"
	default:
		data, err = BuildCommandsXLSX(list)
		name = "commands.xlsx"
		mime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "EXPORT_FAILED"})
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// BuildCommandsPDF renders a minimal PDF listing of commands.
func BuildCommandsPDF(list []commands.Command) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Command History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Commands: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(52, 6, "ID", "1", 0, "C", false, 0, "")
	pdf.CellFormat(38, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(16, 6, "Retries", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Queued", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Last Error", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, cmd := range list {
		pdf.CellFormat(52, 6, cmd.ID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(38, 6, cmd.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, cmd.PayloadType(), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(cmd.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(16, 6, fmt.Sprintf("%d", cmd.RetryCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, cmd.QueuedAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, truncate(cmd.LastError, 48), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCommandsXLSX renders a minimal XLSX listing of commands.
func BuildCommandsXLSX(list []commands.Command) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "commands"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Tenant", "Device", "Type", "Status", "Retries", "Max Retries", "Queued At", "Sent At", "Acked At", "Last Error"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}

	for i, cmd := range list {
		row := i + 2
		values := []any{
			cmd.ID,
			cmd.TenantID,
			cmd.DeviceID,
			cmd.PayloadType(),
			string(cmd.Status),
			cmd.RetryCount,
			cmd.MaxRetries,
			timestamp(cmd.QueuedAt),
			timestamp(cmd.SentAt),
			timestamp(cmd.AckedAt),
			cmd.LastError,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

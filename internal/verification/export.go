package verification

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const exportSheetName = "Verification Requests"

// exportLimit caps how many rows a single export can pull.
const exportLimit = 5000

var exportColumns = []string{
	"Request ID", "Driver", "Phone", "Category", "Status",
	"Reviewer ID", "Created At", "Approved At", "Buffer Expires At",
	"Rejection Reason",
}

// Export streams the filtered request list as an xlsx workbook.
func (h *Handler) Export(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Page = 1
	filter.Limit = exportLimit

	requests, _, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("verification-requests-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := writeRequestsWorkbook(c.Writer, requests); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
	}
}

func writeRequestsWorkbook(w io.Writer, requests []VerificationRequest) error {
	file := excelize.NewFile()
	defer file.Close()

	file.SetSheetName("Sheet1", exportSheetName)

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		file.SetCellValue(exportSheetName, cell, col)
		file.SetCellStyle(exportSheetName, cell, cell, headerStyle)
	}

	file.SetPanes(exportSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	for rowIdx, request := range requests {
		driverName, driverPhone := "", ""
		if request.Driver != nil {
			driverName = request.Driver.Name
			driverPhone = request.Driver.Phone
		}
		reviewerID := ""
		if request.AssignedReviewerID != nil {
			reviewerID = request.AssignedReviewerID.String()
		}
		row := []interface{}{
			request.ID.String(),
			driverName,
			driverPhone,
			string(request.Category),
			string(request.Status),
			reviewerID,
			formatExportTime(&request.CreatedAt),
			formatExportTime(request.ApprovedAt),
			formatExportTime(request.BufferExpiresAt),
			stringOrEmpty(request.RejectionReason),
		}
		for colIdx, val := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			file.SetCellValue(exportSheetName, cell, val)
		}
	}

	if len(requests) > 0 {
		lastCol, _ := excelize.ColumnNumberToName(len(exportColumns))
		file.AutoFilter(exportSheetName, fmt.Sprintf("A1:%s1", lastCol), nil)
	}

	widths := map[string]float64{"A": 38, "B": 24, "C": 18, "D": 16, "E": 18, "F": 38, "G": 20, "H": 20, "I": 20, "J": 40}
	for col, width := range widths {
		file.SetColWidth(exportSheetName, col, col, width)
	}

	return file.Write(w)
}

func formatExportTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

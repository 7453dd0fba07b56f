package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ExportHistoryExcel renders the site's scan history (optionally
// filtered by month) to an in-memory .xlsx workbook and returns it with
// the download filename.
func ExportHistoryExcel(ctx context.Context, month *string) (*excelize.File, string, error) {

	rows, err := models.ListScanRecords(ctx, month)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheetName := "Sheet1"
	_, err = f.NewSheet(sheetName)
	if err != nil {
		return nil, "", err
	}

	// Add headers
	headings := []string{"Id", "CardId", "Number", "Status", "Operator", "Date", "Month", "CycleId", "Site"}
	col := 'A'
	for _, h := range headings {
		f.SetCellValue(sheetName, string(col)+"1", h)
		col++
	}

	// Add data
	for i, r := range rows {
		rowNo := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+rowNo, r.ID)
		f.SetCellValue(sheetName, "B"+rowNo, r.CardId)
		f.SetCellValue(sheetName, "C"+rowNo, r.Number)
		f.SetCellValue(sheetName, "D"+rowNo, string(r.Status))
		f.SetCellValue(sheetName, "E"+rowNo, r.Operator)
		f.SetCellValue(sheetName, "F"+rowNo, r.ScannedAt.Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheetName, "G"+rowNo, r.Month)
		f.SetCellValue(sheetName, "H"+rowNo, r.CycleId)
		f.SetCellValue(sheetName, "I"+rowNo, r.Site)
	}

	label := utils.DereferencePtr(month)
	if label == "" {
		label = "todos"
	}
	filename := fmt.Sprintf("historico_%s_%s.xlsx", label, time.Now().Format("20060102_150405"))
	return f, filename, nil
}

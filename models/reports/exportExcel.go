package reports

import (
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

const exportSheet = "Sheet1"

// ExportExcel streams rows as an xlsx workbook straight onto the response.
func ExportExcel(w http.ResponseWriter, filename string, headers []string, rows []ExcelExporter) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(exportSheet); err != nil {
		return err
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}

	for i, row := range rows {
		for col, v := range row.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return err
			}
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	return f.Write(w)
}

// ScheduleReportHeaders is the column order matching ScheduleReportRow.GetCellValues.
var ScheduleReportHeaders = []string{
	"Subject", "Status", "Type", "Sub Type", "Reason",
	"Release At", "Return By", "Location", "Accompaniment",
}

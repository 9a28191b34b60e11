// Package export renders queue snapshots for operators.
package export

import (
	"fmt"
	"io"
	"time"

	"secsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Queue"

var headers = []string{"ID", "Operation", "Target", "Retry count", "Created at", "Last error", "Payload"}

// WriteQueueXLSX writes items as a single-sheet workbook. Rows of items that
// already failed at least once are highlighted.
func WriteQueueXLSX(w io.Writer, items []models.SyncItem) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	retryStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1},
	})

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
		_ = f.SetCellStyle(SheetName, cell, cell, headerStyle)
	}

	for i := range items {
		item := &items[i]
		row := i + 2
		lastError := ""
		if item.LastError != nil {
			lastError = *item.LastError
		}
		values := []interface{}{
			item.ID,
			string(item.Operation),
			string(item.TargetType),
			item.RetryCount,
			item.CreatedAt.Local().Format(time.DateTime),
			lastError,
			string(item.Payload),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}
		if item.RetryCount > 0 {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(SheetName, first, last, retryStyle)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", "D", 12)
	_ = f.SetColWidth(SheetName, "E", "F", 22)
	_ = f.SetColWidth(SheetName, "G", "G", 60)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

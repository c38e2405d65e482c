// Package report exports debtor lists as Excel workbooks.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Debtors"

var headers = []string{
	"ID", "Full name", "Phone", "Region", "District", "Product",
	"Monthly payment", "Remaining amount", "Remaining months",
	"Next payment", "Status", "Overdue days", "Last call", "Call note",
}

var bucketLabels = map[installment.Bucket]string{
	installment.BucketDueToday:     "Due today",
	installment.BucketDueSoon:      "Due in 2 days",
	installment.BucketOverdue1Day:  "Overdue 1-2 days",
	installment.BucketOverdue3Days: "Overdue 3+ days",
	installment.BucketNone:         "",
}

// FileName is the download name of an export taken at now.
func FileName(bucket string, now time.Time) string {
	return fmt.Sprintf("debtors-%s-%s.xlsx", bucket, now.Format("2006-01-02"))
}

// DebtorsWorkbook writes entries to a single-sheet workbook. Dates are
// printed in loc.
func DebtorsWorkbook(entries []models.DebtorEntry, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("failed to create money style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, e := range entries {
		row := i + 2
		next, lastCall := "", ""
		if e.CreditInfo.NextPaymentDate != nil {
			next = e.CreditInfo.NextPaymentDate.In(loc).Format("2006-01-02")
		}
		if e.LastCallDate != nil {
			lastCall = e.LastCallDate.In(loc).Format("2006-01-02 15:04")
		}
		monthly, _ := e.Product.MonthlyPayment.Float64()
		remaining, _ := e.CreditInfo.RemainingAmount.Float64()

		values := []any{
			e.ID, e.FullName, e.Phone, e.Region, e.District, e.Product.Name,
			monthly, remaining, e.CreditInfo.RemainingMonths,
			next, bucketLabels[e.Bucket], e.OverdueDays, lastCall, e.CallNote,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	if len(entries) > 0 {
		last := len(entries) + 1
		if err := f.SetCellStyle(sheetName, "G2", fmt.Sprintf("H%d", last), moneyStyle); err != nil {
			return nil, fmt.Errorf("failed to style amounts: %w", err)
		}
	}
	for col, width := range map[string]float64{"B": 32, "C": 16, "F": 24, "G": 16, "H": 16, "J": 14, "K": 18, "M": 18, "N": 40} {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

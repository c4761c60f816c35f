// Package report renders ledger extracts as xlsx workbooks for billing
// review.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"voxdrop/internal/repository"
)

// LedgerSource is the slice of the ledger the exporter reads.
type LedgerSource interface {
	ListRange(ctx context.Context, from, to time.Time) ([]repository.LedgerEntry, error)
}

// Exporter builds audit workbooks.
type Exporter struct {
	ledger LedgerSource
}

// NewExporter constructs an exporter.
func NewExporter(ledger LedgerSource) *Exporter {
	return &Exporter{ledger: ledger}
}

const sheetName = "Audit Ledger"

var headerRow = []string{
	"Submission", "Attempt", "From", "To", "Reason", "Confidence", "Models", "Cost (USD)", "At",
}

// Export reads the ledger for [from, to) and writes one workbook row per
// entry plus a total cost line.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	entries, err := e.ledger.ListRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return BuildWorkbook(entries)
}

// BuildWorkbook renders entries into a workbook.
func BuildWorkbook(entries []repository.LedgerEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for col, title := range headerRow {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	var totalCost float64
	for i, entry := range entries {
		row := i + 2
		totalCost += entry.Cost
		values := []any{
			entry.SubmissionID,
			entry.Attempt,
			entry.PrevStatus,
			entry.NewStatus,
			entry.Reason,
			confidenceCell(entry.Confidence),
			strings.Join(entry.ModelsUsed, ", "),
			entry.Cost,
			entry.CreatedAt.UTC().Format(time.RFC3339),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	totalRow := len(entries) + 3
	labelCell, _ := excelize.CoordinatesToCellName(1, totalRow)
	costCell, _ := excelize.CoordinatesToCellName(8, totalRow)
	if err := f.SetCellValue(sheetName, labelCell, "Total cost"); err != nil {
		return nil, fmt.Errorf("write total label: %w", err)
	}
	if err := f.SetCellValue(sheetName, costCell, totalCost); err != nil {
		return nil, fmt.Errorf("write total cost: %w", err)
	}
	return f, nil
}

func confidenceCell(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/xuri/excelize/v2"
)

var ExportColumns = []string{
	"id", "name", "position", "department", "email", "phone", "joined", "salary", "currency", "status",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func ExportFilename(now time.Time) string {
	return fmt.Sprintf("employees_%s.csv", now.Format("2006-01-02"))
}

// exportRow converts the amount into currency before formatting; the
// currency column always reports the target.
func exportRow(rec types.Record, currency types.Currency) []string {
	amount := Convert(rec.Amount(), orUSD(rec.Currency), currency)

	return []string{
		strconv.FormatInt(rec.ID, 10),
		rec.Name,
		rec.Position(),
		rec.Department(),
		rec.Email,
		rec.Phone,
		rec.Joined,
		strconv.FormatFloat(amount, 'f', -1, 64),
		string(currency),
		string(rec.Status),
	}
}

// ExportCSV writes records as a BOM-prefixed UTF-8 CSV. Fields containing a
// comma, quote or newline are quoted with embedded quotes doubled.
func ExportCSV(w io.Writer, records []types.Record, currency types.Currency) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(exportRow(rec, currency)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ExportXLSX(w io.Writer, records []types.Record, currency types.Currency) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Employees"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	for i, h := range ExportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, rec := range records {
		row := exportRow(rec, currency)
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var value any = v
			switch ExportColumns[c] {
			case "id":
				value = rec.ID
			case "salary":
				value = Convert(rec.Amount(), orUSD(rec.Currency), currency)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(sheet, "B", "B", 24)
	_ = f.SetColWidth(sheet, "E", "E", 28)

	return f.Write(w)
}

func orUSD(c types.Currency) types.Currency {
	if c == "" {
		return types.USD
	}
	return c
}

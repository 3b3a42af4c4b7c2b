// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package excel

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/contracts-hub/internal/contracts"
)

// SheetName is the sheet written by Export
const SheetName = "Договоры"

// Column titles, in sheet order
const (
	colNumber       = "№"
	colOrganization = "Название организации"
	colContractNo   = "Номер договора"
	colContractDate = "Дата договора"
	colExpiration   = "Срок действия"
	colAmount       = "Сумма (₽)"
	colSBIS         = "СБИС"
	colEIS          = "ЕИС"
	colWorkAct      = "Акт работ"
	colContact      = "Контактное лицо"
	colPhone        = "Телефон"
)

var headers = []string{
	colNumber, colOrganization, colContractNo, colContractDate, colExpiration,
	colAmount, colSBIS, colEIS, colWorkAct, colContact, colPhone,
}

var columnWidths = []float64{5, 30, 18, 15, 15, 15, 8, 8, 12, 25, 18}

// amountColumn is the 1-based index of the amount column
const amountColumn = 6

// FileName returns the download name for an export made on day
func FileName(day time.Time) string {
	return fmt.Sprintf("Договоры_%s.xlsx", day.Format("02-01-2006"))
}

// Export writes contracts as an .xlsx workbook to w
func Export(w io.Writer, list []contracts.Contract) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return err
		}
	}

	styles, err := newStyles(f)
	if err != nil {
		return err
	}

	for i, title := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(SheetName, cell, title)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", styles.header); err != nil {
		return err
	}

	for i, c := range list {
		row := i + 2
		values := []interface{}{
			i + 1,
			c.OrganizationName,
			c.ContractNumber,
			c.ContractDate,
			c.ExpirationDate,
			contracts.ParseAmount(c.Amount),
			c.SBIS,
			c.EIS,
			c.WorkAct,
			c.ContactPerson,
			c.ContactPhone,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(SheetName, cell, v)

			style := styles.text
			switch col + 1 {
			case 1:
				style = styles.number
			case amountColumn:
				style = styles.amount
			}
			f.SetCellStyle(SheetName, cell, cell, style)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

type sheetStyles struct {
	header, number, text, amount int
}

func border(color string) []excelize.Border {
	return []excelize.Border{
		{Type: "top", Color: color, Style: 1},
		{Type: "bottom", Color: color, Style: 1},
		{Type: "left", Color: color, Style: 1},
		{Type: "right", Color: color, Style: 1},
	}
}

func newStyles(f *excelize.File) (sheetStyles, error) {
	var s sheetStyles
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1E293B"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 12},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    border("334155"),
	})
	if err != nil {
		return s, fmt.Errorf("failed to create header style: %w", err)
	}

	cell := func(horizontal string, numFmt int) (int, error) {
		return f.NewStyle(&excelize.Style{
			Alignment: &excelize.Alignment{Horizontal: horizontal, Vertical: "center", WrapText: true},
			Border:    border("E2E8F0"),
			NumFmt:    numFmt,
		})
	}
	if s.number, err = cell("center", 0); err != nil {
		return s, err
	}
	if s.text, err = cell("left", 0); err != nil {
		return s, err
	}
	// 4 is the built-in "#,##0.00" format
	if s.amount, err = cell("right", 4); err != nil {
		return s, err
	}
	return s, nil
}

// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package excel

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/contracts-hub/internal/contracts"
)

// RowError reports a sheet row that could not be imported
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult is the outcome of reading a workbook
type ImportResult struct {
	Contracts []contracts.Contract `json:"contracts"`
	Errors    []RowError           `json:"errors"`
}

// Import reads contracts from the first sheet of an .xlsx workbook.
// Columns are matched by header title, empty rows are skipped and rows that
// fail validation are reported in Errors.
func Import(r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}

	index := make(map[string]int)
	for i, title := range rows[0] {
		index[strings.TrimSpace(title)] = i
	}
	if _, ok := index[colOrganization]; !ok {
		return nil, fmt.Errorf("column %q not found", colOrganization)
	}

	result := &ImportResult{Contracts: []contracts.Contract{}, Errors: []RowError{}}
	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		row := rows[rowIdx]
		if isEmptyRow(row) {
			continue
		}

		get := func(title string) string {
			i, ok := index[title]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		c := contracts.Contract{
			OrganizationName: get(colOrganization),
			ContractNumber:   get(colContractNo),
			ContractDate:     get(colContractDate),
			ExpirationDate:   get(colExpiration),
			Amount:           get(colAmount),
			SBIS:             get(colSBIS),
			EIS:              get(colEIS),
			WorkAct:          get(colWorkAct),
			ContactPerson:    get(colContact),
			ContactPhone:     get(colPhone),
		}
		if err := c.Validate(); err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowIdx + 1, Error: err.Error()})
			continue
		}
		result.Contracts = append(result.Contracts, c)
	}
	return result, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// IsWorkbook reports whether path looks like an importable workbook
func IsWorkbook(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx") && !IsTemporaryFile(path)
}

// IsTemporaryFile reports lock and temp files left by office suites
func IsTemporaryFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "~$") ||
		strings.HasPrefix(base, "._") ||
		strings.HasSuffix(base, ".tmp")
}

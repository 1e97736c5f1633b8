// Package export writes batch results as JSON, CSV or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/xuri/excelize/v2"
)

// Format is an export encoding.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// SheetName is the worksheet holding results in XLSX exports.
const SheetName = "Results"

var csvHeader = []string{"itemId", "success", "processingTimeMs", "confidence", "error"}

// ParseFormat resolves a format name; an empty name means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return JSON, nil
	case JSON, CSV, XLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Write encodes job in format f.
func Write(w io.Writer, f Format, job model.BatchJob) error {
	switch f {
	case JSON:
		return WriteJSON(w, job)
	case CSV:
		return WriteCSV(w, job.Results)
	case XLSX:
		return WriteXLSX(w, job.Results)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// WriteJSON dumps the whole job.
func WriteJSON(w io.Writer, job model.BatchJob) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

// WriteCSV writes one row per result. The itemId column carries the file name when
// the item had one.
func WriteCSV(w io.Writer, results []model.ItemResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		if err := cw.Write(csvRow(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ItemID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the CSV columns plus stage, matchedSku and method to a single sheet.
func WriteXLSX(w io.Writer, results []model.ItemResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	headers := append(append([]string{}, csvHeader...), "stage", "matchedSku", "method")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, r := range results {
		row := []any{
			rowID(r), r.Success, r.ProcessingTimeMs, r.Confidence, r.Error,
			"", "", "",
		}
		if r.Result != nil {
			row[5] = string(r.Result.Processing.Stage)
			row[6] = r.Result.MatchedSKU()
			row[7] = string(r.Result.Processing.Method)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %s: %w", r.ItemID, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetColWidth(SheetName, "A", lastCol, 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func csvRow(r model.ItemResult) []string {
	return []string{
		rowID(r),
		strconv.FormatBool(r.Success),
		strconv.FormatInt(r.ProcessingTimeMs, 10),
		strconv.FormatFloat(r.Confidence, 'f', 3, 64),
		r.Error,
	}
}

func rowID(r model.ItemResult) string {
	if r.FileName != "" {
		return r.FileName
	}
	return r.ItemID
}

package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// MaxSheetName is the longest sheet name a workbook accepts.
const MaxSheetName = 31

const (
	headerFill   = "8EA9DB"
	positiveFill = "8CD787"
	negativeFill = "D75349"
	fontFamily   = "Arial"
	numberFormat = "0.00"
)

type styles struct {
	header int
	text   int
	number int
	yes    int
	no     int
}

func borders() []excelize.Border {
	out := make([]excelize.Border, 0, 4)
	for _, side := range []string{"left", "top", "right", "bottom"} {
		out = append(out, excelize.Border{Type: side, Color: "000000", Style: 1})
	}
	return out
}

func newStyles(f *excelize.File) (styles, error) {
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	cell := func(fill string, numFmt string) *excelize.Style {
		s := &excelize.Style{
			Font:      &excelize.Font{Family: fontFamily, Size: 14},
			Alignment: center,
			Border:    borders(),
		}
		if fill != "" {
			s.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{fill}}
		}
		if numFmt != "" {
			s.CustomNumFmt = &numFmt
		}
		return s
	}

	var s styles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Family: fontFamily, Size: 16, Bold: true},
		Alignment: center,
		Border:    borders(),
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
	}); err != nil {
		return s, fmt.Errorf("create header style: %w", err)
	}
	if s.text, err = f.NewStyle(cell("", "")); err != nil {
		return s, fmt.Errorf("create text style: %w", err)
	}
	if s.number, err = f.NewStyle(cell("", numberFormat)); err != nil {
		return s, fmt.Errorf("create number style: %w", err)
	}
	if s.yes, err = f.NewStyle(cell(positiveFill, "")); err != nil {
		return s, fmt.Errorf("create positive style: %w", err)
	}
	if s.no, err = f.NewStyle(cell(negativeFill, "")); err != nil {
		return s, fmt.Errorf("create negative style: %w", err)
	}
	return s, nil
}

// Render builds the workbook: the rollup sheet first, then one sheet per report.
func Render(reports []audit.AccountReport, columns []Column) (*excelize.File, error) {
	f := excelize.NewFile()
	st, err := newStyles(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	names := sheetNames(reports)
	rollup := audit.Rollup(reports)

	defaultSheet := f.GetSheetName(0)
	if err := f.SetSheetName(defaultSheet, names[0]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("name rollup sheet: %w", err)
	}
	if err := writeSheet(f, st, names[0], columns, rollup.Instances); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, r := range reports {
		name := names[i+1]
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, st, name, columns, r.Instances); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeSheet(f *excelize.File, st styles, sheet string, columns []Column, rows []audit.EnrichedResource) error {
	for i, col := range columns {
		letter, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column %d: %w", i+1, err)
		}
		if err := f.SetColWidth(sheet, letter, letter, col.Width); err != nil {
			return fmt.Errorf("set width of %s: %w", col.Name, err)
		}
		if err := setCell(f, sheet, i+1, 1, col.Name, st.header); err != nil {
			return err
		}
	}

	for r, row := range rows {
		for c, col := range columns {
			value, style := cellValue(col.Value(row), st)
			if err := setCell(f, sheet, c+1, r+2, value, style); err != nil {
				return err
			}
		}
	}
	return nil
}

func cellValue(v any, st styles) (any, int) {
	switch val := v.(type) {
	case bool:
		if val {
			return "Y", st.yes
		}
		return "N", st.no
	case float64:
		return val, st.number
	case string:
		return val, st.text
	default:
		return fmt.Sprint(val), st.text
	}
}

func setCell(f *excelize.File, sheet string, col, row int, value any, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell %d,%d: %w", col, row, err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
		return fmt.Errorf("style %s!%s: %w", sheet, cell, err)
	}
	return nil
}

// sheetNames returns the rollup name followed by one unique name per report.
func sheetNames(reports []audit.AccountReport) []string {
	used := map[string]bool{strings.ToLower(audit.AllAccounts): true}
	names := make([]string, 0, len(reports)+1)
	names = append(names, audit.AllAccounts)

	for _, r := range reports {
		base := sanitizeSheetName(r.Account)
		name := clip(base, MaxSheetName)
		for n := 2; used[strings.ToLower(name)]; n++ {
			suffix := "-" + strconv.Itoa(n)
			name = clip(base, MaxSheetName-len(suffix)) + suffix
		}
		used[strings.ToLower(name)] = true
		names = append(names, name)
	}
	return names
}

var sheetNameReplacer = strings.NewReplacer(
	":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_",
)

func sanitizeSheetName(s string) string {
	s = strings.Trim(sheetNameReplacer.Replace(s), "'")
	if s == "" {
		return "account"
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

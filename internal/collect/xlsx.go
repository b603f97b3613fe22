package collect

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadtool/internal/model"
)

// XLSXSource reads a spreadsheet of manually entered leads. The first row of
// the sheet is the header, as with CSVSource.
type XLSXSource struct {
	Path      string
	SheetName string // if set, overrides SheetIdx
	SheetIdx  int
	Meta      Meta
}

func (s *XLSXSource) Stream(ctx context.Context, out chan<- model.Observation) error {
	f, err := xlsx.OpenFile(s.Path)
	if err != nil {
		return eris.Wrapf(err, "xlsx: open %s", s.Path)
	}
	sheet, err := s.sheet(f)
	if err != nil {
		return err
	}

	meta := s.Meta
	if meta.SourceURL == "" {
		meta.SourceURL = "file://" + s.Path
	}

	var header []string
	for i, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "xlsx: context cancelled")
		}
		cells := rowToStrings(row)
		if i == 0 {
			header = headerKeys(cells)
			continue
		}
		if isBlank(cells) {
			continue
		}
		if err := meta.emit(ctx, out, rowRecord(header, cells), fmt.Sprintf("row %d", i+1)); err != nil {
			return err
		}
	}
	return nil
}

func (s *XLSXSource) sheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if s.SheetName != "" {
		sheet, ok := f.Sheet[s.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", s.SheetName)
		}
		return sheet, nil
	}
	if s.SheetIdx < 0 || s.SheetIdx >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", s.SheetIdx, len(f.Sheets))
	}
	return f.Sheets[s.SheetIdx], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

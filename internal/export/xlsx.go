package export

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"datadict/internal/logging"
	"datadict/internal/metrics"
)

// IgnoredNotice is written on the sheet of an ignored column.
const IgnoredNotice = "This column is ignored."

// maxDataRows leaves room for the title and header rows.
const maxDataRows = excelize.TotalRows - 2

var invalidSheetChars = regexp.MustCompile(`[\\/*?:\[\]]`)

// SheetName is the worksheet name of the column with the given 1-based
// number, cleaned of characters Excel rejects and cut to 31 characters.
func SheetName(ordinal int) string {
	name := invalidSheetChars.ReplaceAllString("Column_"+strconv.Itoa(ordinal), "")
	if len(name) > excelize.MaxSheetNameLength {
		name = name[:excelize.MaxSheetNameLength]
	}
	return name
}

type workbookStyles struct {
	title, header, cell int
}

func newStyles(f *excelize.File) (workbookStyles, error) {
	border := func(style int) []excelize.Border {
		return []excelize.Border{
			{Type: "left", Color: "000000", Style: style},
			{Type: "top", Color: "000000", Style: style},
			{Type: "right", Color: "000000", Style: style},
			{Type: "bottom", Color: "000000", Style: style},
		}
	}
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}

	var s workbookStyles
	var err error
	if s.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: center,
		Border:    border(2),
	}); err != nil {
		return s, err
	}
	if s.header, err = f.NewStyle(&excelize.Style{Alignment: center, Border: border(1)}); err != nil {
		return s, err
	}
	s.cell, err = f.NewStyle(&excelize.Style{Border: border(1)})
	return s, err
}

// Workbook writes WorkbookName with one sheet per column. Dictionary sheets
// carry a merged title, a Key/Value header and value/id rows; ignored
// columns get a notice instead. Rows beyond the sheet limit are dropped with
// a warning. It returns the workbook path.
func (e *Exporter) Workbook(ctx context.Context) (path string, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("export", "xlsx", err, time.Since(start)) }()

	tables, err := e.tables(ctx)
	if err != nil {
		return "", err
	}
	entries := e.sheets(tables)
	if len(entries) == 0 {
		return "", errors.New("store holds no dictionaries to export")
	}

	wb := excelize.NewFile()
	defer wb.Close()
	styles, err := newStyles(wb)
	if err != nil {
		return "", errors.Wrap(err, "create styles")
	}

	const defaultSheet = "Sheet1"
	for i, ent := range entries {
		name := SheetName(ent.Ordinal())
		if i == 0 {
			err = wb.SetSheetName(defaultSheet, name)
		} else {
			_, err = wb.NewSheet(name)
		}
		if err != nil {
			return "", errors.Wrapf(err, "add sheet %s", name)
		}
		if err := e.writeSheet(ctx, wb, name, ent, styles); err != nil {
			return "", err
		}
	}
	wb.SetActiveSheet(0)

	f, final, commit, err := CreateFile(e.opts.Dir, WorkbookName)
	if err != nil {
		return "", err
	}
	_, werr := wb.WriteTo(f)
	if err := commit(errors.Wrap(werr, "write workbook")); err != nil {
		return "", err
	}
	return final, nil
}

func (e *Exporter) writeSheet(ctx context.Context, wb *excelize.File, name string, ent sheetEntry, st workbookStyles) error {
	sw, err := wb.NewStreamWriter(name)
	if err != nil {
		return errors.Wrapf(err, "open sheet %s", name)
	}
	if err := sw.SetColWidth(1, 2, 30); err != nil {
		return errors.Wrapf(err, "sheet %s", name)
	}

	if err := sw.SetRow("A1", []interface{}{
		excelize.Cell{StyleID: st.title, Value: ent.Label()},
		excelize.Cell{StyleID: st.title},
	}); err != nil {
		return errors.Wrapf(err, "sheet %s title", name)
	}
	if err := sw.MergeCell("A1", "B1"); err != nil {
		return errors.Wrapf(err, "sheet %s title", name)
	}

	if ent.ignored {
		if err := sw.SetRow("A2", []interface{}{
			excelize.Cell{StyleID: st.header, Value: IgnoredNotice},
			excelize.Cell{StyleID: st.header},
		}); err != nil {
			return errors.Wrapf(err, "sheet %s notice", name)
		}
		if err := sw.MergeCell("A2", "B2"); err != nil {
			return errors.Wrapf(err, "sheet %s notice", name)
		}
		return errors.Wrapf(sw.Flush(), "flush sheet %s", name)
	}

	if err := sw.SetRow("A2", []interface{}{
		excelize.Cell{StyleID: st.header, Value: "Key"},
		excelize.Cell{StyleID: st.header, Value: "Value"},
	}); err != nil {
		return errors.Wrapf(err, "sheet %s header", name)
	}

	row := 3
	dropped := 0
	if err := e.r.Scan(ctx, ent.Descriptor, func(id int64, v string) error {
		if row-2 > maxDataRows {
			dropped++
			return nil
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return sw.SetRow(cell, []interface{}{
			excelize.Cell{StyleID: st.cell, Value: v},
			excelize.Cell{StyleID: st.cell, Value: id},
		})
	}); err != nil {
		return errors.Wrapf(err, "export %s", ent.Table())
	}
	if dropped > 0 {
		e.log.Warn("dictionary exceeds the sheet row limit; rows truncated",
			zap.String(logging.FieldTable, ent.Table()),
			zap.Int("dropped", dropped),
		)
	}
	e.log.Info("sheet written",
		zap.String(logging.FieldTable, ent.Table()),
		zap.Int(logging.FieldCount, row-3),
	)
	return errors.Wrapf(sw.Flush(), "flush sheet %s", name)
}

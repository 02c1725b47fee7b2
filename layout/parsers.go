package layout

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/hazyhaar/variazioni/pdfdoc"
	"github.com/hazyhaar/variazioni/variation"
)

// Layout generations, oldest last. A new publisher redesign gets a new
// value here; existing ones stay valid for their historical documents.
var (
	// NewUI is the current generation.
	NewUI = Layout{
		Name:    "new_ui",
		Headers: []string{"Ora", "Classe", "Docente assente", "Sostituto 1", "Sostituto 2", "Note"},
		Columns: Columns{Hour: 0, Class: 1, Classroom: 2, Teacher: 3, Substitute1: 4, Substitute2: 5, Notes: 7},
	}

	// OldUI prints class and room in one cell and has no classroom column.
	OldUI = Layout{
		Name:           "old_ui",
		Headers:        []string{"Ora", "Classe", "Doc.Assente", "Sost.1", "Sost.2", "Note"},
		Columns:        Columns{Hour: 0, Class: 1, Classroom: Absent, Teacher: 2, Substitute1: 3, Substitute2: 4, Notes: 6},
		SplitClassRoom: true,
	}

	// ExcelUI is the spreadsheet-exported generation with a single substitute.
	ExcelUI = Layout{
		Name:    "excel_ui",
		Headers: []string{"Ora", "Classe", "Aula", "Docente assente", "Docente sostituto", "Note"},
		Columns: Columns{Hour: 0, Class: 1, Classroom: 2, Teacher: 3, Substitute1: 4, Substitute2: Absent, Notes: 5},
	}
)

// Generations lists the text layouts in chain priority order.
var Generations = []Layout{NewUI, OldUI, ExcelUI}

// Extractor turns a document into table rows.
type Extractor func(doc []byte) ([][]string, error)

// TableParser reads a PDF's text layer and applies one Layout.
type TableParser struct {
	Layout  Layout
	Extract Extractor
}

// NewTableParser uses pdfdoc.ExtractTable.
func NewTableParser(l Layout) TableParser {
	return TableParser{Layout: l, Extract: pdfdoc.ExtractTable}
}

func (p TableParser) Name() string { return p.Layout.Name }

// TryParse treats extraction failures as a layout mismatch: a document the
// text extractor cannot read is a candidate for the next strategy.
func (p TableParser) TryParse(ctx context.Context, doc []byte) ([]variation.Variation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := p.Extract(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	return p.Layout.Rows(rows)
}

// SpreadsheetParser reads .xlsx documents. Every sheet is read in workbook
// order and the rows concatenated.
type SpreadsheetParser struct {
	Layout Layout
}

func (p SpreadsheetParser) Name() string { return p.Layout.Name + "_xlsx" }

var zipMagic = []byte("PK\x03\x04")

func (p SpreadsheetParser) TryParse(ctx context.Context, doc []byte) ([]variation.Variation, error) {
	if !bytes.HasPrefix(doc, zipMagic) {
		return nil, ErrNoMatch
	}
	f, err := excelize.OpenReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	defer f.Close()

	var rows [][]string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sheetRows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("layout: read sheet %s: %w", sheet, err)
		}
		rows = append(rows, sheetRows...)
	}
	return p.Layout.Rows(rows)
}

// TextParsers returns the rotating text-layer parsers in priority order,
// followed by the spreadsheet reader.
func TextParsers(rot Rotator, opts ...RotatingOption) []Parser {
	parsers := make([]Parser, 0, len(Generations)+1)
	for _, l := range Generations {
		parsers = append(parsers, NewRotating(NewTableParser(l), rot, opts...))
	}
	return append(parsers, SpreadsheetParser{Layout: ExcelUI})
}

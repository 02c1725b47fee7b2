// Package ocr is the last-resort parser for scanned variation documents.
// Each page raster is cut into cells along its ruling lines and every cell
// is recognised on its own; the resulting matrix goes through the same
// header and row contract as the text parsers.
//
// Every record it emits carries OCR = true. Low recognition confidence is
// logged and counted but never blocks a record.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	"github.com/hazyhaar/variazioni/layout"
	"github.com/hazyhaar/variazioni/pdfdoc"
	"github.com/hazyhaar/variazioni/scratch"
	"github.com/hazyhaar/variazioni/variation"
)

// Config tunes cell preparation and the confidence warning.
type Config struct {
	// MinConfidence below which a cell is reported. Default: 0.95.
	MinConfidence float64 `yaml:"min_confidence"`
	// Inset trims cell borders before recognition, in pixels. Default: 3.
	Inset int `yaml:"inset"`
	// Padding is the white margin added around a cell, in pixels. Default: 50.
	Padding int `yaml:"padding"`
	// Scale upsamples cells before recognition. Default: 2.
	Scale float64 `yaml:"scale"`
	// ScratchDir holds per-page documents and cell images while parsing.
	ScratchDir string `yaml:"scratch_dir"`
}

func (c *Config) defaults() {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.95
	}
	if c.Inset <= 0 {
		c.Inset = 3
	}
	if c.Padding <= 0 {
		c.Padding = 50
	}
	if c.Scale <= 0 {
		c.Scale = 2
	}
	if c.ScratchDir == "" {
		c.ScratchDir = "tmp"
	}
}

// Layout is the header contract of OCR output. Columns are found by header
// name because the detected grid may carry extra or merged columns.
var Layout = layout.Layout{
	Name:     "ocr",
	Headers:  []string{"Ora", "Classe", "Aula", "Docente assente", "Sostituto 1", "Sostituto 2", "Note"},
	ByHeader: true,
	HeaderFields: layout.HeaderFields{
		Hour: "Ora", Class: "Classe", Classroom: "Aula", Teacher: "Docente assente",
		Substitute1: "Sostituto 1", Substitute2: "Sostituto 2", Notes: "Note",
	},
	Person: cleanPerson,
	Class:  cleanClass,
}

// Parser implements layout.Parser on top of an Engine.
type Parser struct {
	rec       Recognizer
	cfg       Config
	logger    *slog.Logger
	onLowFn   func(text string, confidence float64)
	pageImage func(doc []byte) (image.Image, error)
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Parser) { p.logger = l } }

// WithLowConfidenceHook is called for every cell under MinConfidence.
func WithLowConfidenceHook(fn func(text string, confidence float64)) Option {
	return func(p *Parser) { p.onLowFn = fn }
}

// NewParser returns an OCR parser. rec is normally the process Engine.
func NewParser(rec Recognizer, cfg Config, opts ...Option) *Parser {
	cfg.defaults()
	p := &Parser{rec: rec, cfg: cfg, logger: slog.Default(), pageImage: pdfdoc.PageImage}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Parser) Name() string { return Layout.Name }

// TryParse recognises every page. Scratch files are removed on return,
// whatever the outcome.
func (p *Parser) TryParse(ctx context.Context, doc []byte) (vs []variation.Variation, err error) {
	dir, err := scratch.Acquire(p.cfg.ScratchDir, "ocr")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := dir.Release(); rerr != nil {
			p.logger.Warn("ocr: scratch release failed", "error", rerr)
		}
	}()

	pages, err := pdfdoc.SplitPages(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", layout.ErrNoMatch, err)
	}

	var rows [][]string
	for i, page := range pages {
		pageRows, err := p.readPage(ctx, dir, i+1, page)
		switch {
		case errors.Is(err, pdfdoc.ErrNoImage), errors.Is(err, ErrNoTable):
			p.logger.Debug("ocr: page skipped", "page", i+1, "reason", err)
			continue
		case err != nil:
			return nil, err
		}
		rows = append(rows, pageRows...)
	}

	vs, err = Layout.Rows(rows)
	if err != nil {
		return nil, err
	}
	for i := range vs {
		vs[i].OCR = true
	}
	return vs, nil
}

// readPage recognises one page. Its cell images live in a per-page
// directory that is dropped once the page is read.
func (p *Parser) readPage(ctx context.Context, dir *scratch.Dir, pageNr int, page []byte) ([][]string, error) {
	if _, err := dir.WriteFile(fmt.Sprintf("page-%d.pdf", pageNr), page); err != nil {
		return nil, err
	}
	cells, err := dir.Sub(fmt.Sprintf("page-%d", pageNr))
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := cells.Release(); rerr != nil {
			p.logger.Warn("ocr: page scratch release failed", "page", pageNr, "error", rerr)
		}
	}()
	img, err := p.pageImage(page)
	if err != nil {
		return nil, err
	}
	gray := toGray(img)
	grid, err := DetectGrid(gray)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(grid.Rows))
	for r := range grid.Rows {
		row := make([]string, len(grid.Cols))
		for c := range grid.Cols {
			rect := grid.Cell(r, c)
			if blank(gray, rect.Inset(p.cfg.Inset)) {
				continue
			}
			cell := prepareCell(gray, rect, p.cfg.Inset, p.cfg.Padding, p.cfg.Scale)
			if cell == nil {
				continue
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, cell); err != nil {
				return nil, fmt.Errorf("ocr: encode cell: %w", err)
			}
			if _, err := cells.WriteFile(fmt.Sprintf("r%d-c%d.png", r, c), buf.Bytes()); err != nil {
				return nil, err
			}
			rec, err := p.rec.Recognize(ctx, buf.Bytes())
			if err != nil {
				return nil, fmt.Errorf("ocr: page %d cell %d,%d: %w", pageNr, r, c, err)
			}
			if rec.Confidence < p.cfg.MinConfidence {
				p.logger.Warn("ocr: low confidence", "page", pageNr, "row", r, "col", c,
					"text", rec.Text, "confidence", rec.Confidence)
				if p.onLowFn != nil {
					p.onLowFn(rec.Text, rec.Confidence)
				}
			}
			row[c] = strings.TrimSpace(rec.Text)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var ocrNoise = strings.NewReplacer("一", "", ".", "", "=", "", "…", "")

// cleanPerson applies the usual name cleanup after removing glyphs the
// recogniser tends to hallucinate on ruled backgrounds.
func cleanPerson(raw string) variation.Person {
	if strings.EqualFold(strings.TrimSpace(raw), "nan") {
		return variation.NoPerson
	}
	name, _, _ := strings.Cut(raw, "-")
	return variation.NormalizePerson(ocrNoise.Replace(name))
}

// cleanClass uppercases and repairs digit/letter confusions after the
// leading year digit: "3a" -> "3A", "4B1" -> "4BI", "2C0" -> "2CO".
func cleanClass(raw string) string {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if s == "" {
		return s
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return s
	}
	tail := strings.NewReplacer("1", "I", "0", "O", "5", "S", "8", "B").Replace(s[i:])
	return s[:i] + tail
}

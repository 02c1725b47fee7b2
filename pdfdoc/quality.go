package pdfdoc

import (
	"bytes"
	"fmt"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Quality captures how usable a document's text layer is.
type Quality struct {
	PageCount       int     `json:"page_count"`
	CharsPerPage    float64 `json:"chars_per_page"`
	PrintableRatio  float64 `json:"printable_ratio"`
	HasImageStreams bool    `json:"has_image_streams"`
}

// NeedsOCR reports whether the document is most likely a scan.
func (q Quality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImageStreams) || q.PrintableRatio < 0.85
}

// Inspect scores the text layer of doc.
func Inspect(doc []byte) (Quality, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc), newConf())
	if err != nil {
		return Quality{}, fmt.Errorf("pdfdoc: read: %w", err)
	}
	q := Quality{PageCount: ctx.PageCount, HasImageStreams: detectImageStreams(ctx), PrintableRatio: 1}

	pages, err := readGlyphs(doc)
	if err != nil {
		// Unreadable text layer: treat as zero text.
		q.PrintableRatio = 0
		return q, nil
	}
	var text []rune
	for _, p := range pages {
		for _, g := range p.glyphs {
			text = append(text, []rune(g.s)...)
		}
	}
	if ctx.PageCount > 0 {
		q.CharsPerPage = float64(len(text)) / float64(ctx.PageCount)
	}
	q.PrintableRatio = printableRatio(text)
	return q, nil
}

func detectImageStreams(ctx *model.Context) bool {
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// printableRatio excludes private-use runes, U+FFFD and control characters,
// the usual output of fonts without a ToUnicode map.
func printableRatio(text []rune) float64 {
	if len(text) == 0 {
		return 1
	}
	printable := 0
	for _, r := range text {
		if r >= 0xE000 && r <= 0xF8FF || r == 0xFFFD {
			continue
		}
		if unicode.IsPrint(r) {
			printable++
		}
	}
	return float64(printable) / float64(len(text))
}

package pdfdoc

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/ledongthuc/pdf"

	"github.com/hazyhaar/variazioni/internal/pdftest"
)

func rotationOf(t *testing.T, doc []byte) int {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return PageRotation(r.Page(1))
}

func TestRotate_Copy(t *testing.T) {
	// WHAT: Rotating never touches the input bytes.
	// WHY: Every rotation trial starts from the original document.
	doc := pdftest.Build(streamTablePage())
	orig := append([]byte(nil), doc...)

	zero, err := Rotate(doc, 0)
	if err != nil {
		t.Fatalf("rotate 0: %v", err)
	}
	if !bytes.Equal(zero, orig) {
		t.Fatal("rotate 0 should return identical bytes")
	}
	zero[0] = 'X'
	if doc[0] == 'X' {
		t.Fatal("rotate 0 returned the input slice")
	}

	if _, err := Rotate(doc, 90); err != nil {
		t.Fatalf("rotate 90: %v", err)
	}
	if !bytes.Equal(doc, orig) {
		t.Fatal("input mutated by Rotate")
	}
}

func TestRotate_SetsPageRotation(t *testing.T) {
	// WHAT: Rotate records the angle on the page; full turns cancel out.
	// WHY: Table extraction reads /Rotate to map glyphs to display space.
	doc := pdftest.Build(streamTablePage())
	r90, err := Rotate(doc, 90)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := rotationOf(t, r90); got != 90 {
		t.Fatalf("rotation = %d, want 90", got)
	}

	back, err := Rotate(r90, 270)
	if err != nil {
		t.Fatalf("rotate back: %v", err)
	}
	want, _ := ExtractTable(doc)
	got, err := ExtractTable(back)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("after full turn:\n got %q\nwant %q", got, want)
	}
}

func TestRotate_BadAngle(t *testing.T) {
	_, err := Rotate(pdftest.Build(streamTablePage()), 45)
	if !errors.Is(err, ErrBadRotation) {
		t.Fatalf("err = %v, want ErrBadRotation", err)
	}
}

func TestSplitPages(t *testing.T) {
	// WHAT: A two-page document splits into two single-page documents.
	// WHY: OCR runs page by page.
	p1 := pdftest.Page{Texts: pdftest.Row(700, cols, "Ora", "Classe")}
	p2 := pdftest.Page{Texts: pdftest.Row(700, cols, "1", "3A")}
	pages, err := SplitPages(pdftest.Build(p1, p2))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	for i, p := range pages {
		n, err := PageCount(p)
		if err != nil || n != 1 {
			t.Fatalf("page %d: count=%d err=%v", i, n, err)
		}
	}
	rows, err := ExtractTable(pages[1])
	if err != nil || len(rows) != 1 || rows[0][1] != "3A" {
		t.Fatalf("second page rows = %q err=%v", rows, err)
	}
}

func TestPageImage(t *testing.T) {
	// WHAT: The embedded raster of a scanned page is decoded.
	// WHY: OCR works on the page image, not on the text layer.
	const w, h = 40, 30
	px := bytes.Repeat([]byte{0xff}, w*h)
	doc := pdftest.Build(pdftest.Page{Image: &pdftest.Image{Width: w, Height: h, Pixels: px}})
	img, err := PageImage(doc)
	if err != nil {
		t.Fatalf("page image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("bounds = %v, want %dx%d", b, w, h)
	}
}

func TestPageImage_None(t *testing.T) {
	_, err := PageImage(pdftest.Build(streamTablePage()))
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestInspect(t *testing.T) {
	// WHAT: Text documents do not need OCR; image-only scans do.
	// WHY: Quality is recorded per document to explain OCR fallbacks.
	q, err := Inspect(pdftest.Build(streamTablePage()))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if q.PageCount != 1 || q.CharsPerPage == 0 || q.NeedsOCR() {
		t.Fatalf("text quality = %+v", q)
	}

	px := bytes.Repeat([]byte{0x80}, 16)
	q, err = Inspect(pdftest.Build(pdftest.Page{Image: &pdftest.Image{Width: 4, Height: 4, Pixels: px}}))
	if err != nil {
		t.Fatalf("inspect scan: %v", err)
	}
	if !q.HasImageStreams || !q.NeedsOCR() {
		t.Fatalf("scan quality = %+v", q)
	}
}

package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/variazioni/internal/pdftest"
	"github.com/hazyhaar/variazioni/variation"
)

const (
	cellW, cellH = 90, 40
	margin       = 20
)

// tableImage draws a ruled table; every non-empty cell gets an ink blob so
// the parser sends it for recognition.
func tableImage(cells [][]string) *image.Gray {
	rows, cols := len(cells), len(cells[0])
	w, h := 2*margin+cols*cellW+2, 2*margin+rows*cellH+2
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	black := color.Gray{Y: 0}
	for r := 0; r <= rows; r++ {
		for t := 0; t < 2; t++ {
			for x := margin; x < margin+cols*cellW+2; x++ {
				img.SetGray(x, margin+r*cellH+t, black)
			}
		}
	}
	for c := 0; c <= cols; c++ {
		for t := 0; t < 2; t++ {
			for y := margin; y < margin+rows*cellH+2; y++ {
				img.SetGray(margin+c*cellW+t, y, black)
			}
		}
	}
	for r, row := range cells {
		for c, text := range row {
			if text == "" {
				continue
			}
			cx, cy := margin+c*cellW+cellW/2, margin+r*cellH+cellH/2
			for y := cy - 4; y < cy+4; y++ {
				for x := cx - 4; x < cx+4; x++ {
					img.SetGray(x, y, black)
				}
			}
		}
	}
	return img
}

// scriptedRecognizer answers with the non-empty cells in row-major order.
type scriptedRecognizer struct {
	texts []string
	conf  map[int]float64
	calls int
}

func newScripted(cells [][]string) *scriptedRecognizer {
	s := &scriptedRecognizer{conf: map[int]float64{}}
	for _, row := range cells {
		for _, c := range row {
			if c != "" {
				s.texts = append(s.texts, c)
			}
		}
	}
	return s
}

func (s *scriptedRecognizer) Recognize(_ context.Context, png []byte) (Recognition, error) {
	if len(png) == 0 {
		return Recognition{}, errors.New("empty image")
	}
	i := s.calls
	s.calls++
	if i >= len(s.texts) {
		return Recognition{}, errors.New("unexpected cell")
	}
	conf, ok := s.conf[i]
	if !ok {
		conf = 0.99
	}
	return Recognition{Text: s.texts[i], Confidence: conf}, nil
}

var scanCells = [][]string{
	{"Ora", "Classe", "Aula", "Docente assente", "Sostituto 1", "Sostituto 2", "Note"},
	{"1", "3a", "L12", "Rossi一", "Verdi.", "nan", "uscita"},
	{"4", "4B1", "", "Bianchi", "=", "", ""},
}

func TestDetectGrid(t *testing.T) {
	// WHAT: Ruling lines define rows and columns; ink blobs do not.
	// WHY: Cell geometry comes from structure, never from OCR.
	g, err := DetectGrid(tableImage(scanCells))
	if err != nil {
		t.Fatalf("DetectGrid: %v", err)
	}
	if len(g.Rows) != 3 || len(g.Cols) != 7 {
		t.Fatalf("grid = %d rows x %d cols, want 3 x 7", len(g.Rows), len(g.Cols))
	}
	if want := (Span{Start: margin + 2, End: margin + cellH}); g.Rows[0] != want {
		t.Errorf("row 0 = %+v, want %+v", g.Rows[0], want)
	}
	if want := image.Rect(margin+cellW+2, margin+cellH+2, margin+2*cellW, margin+2*cellH); g.Cell(1, 1) != want {
		t.Errorf("cell(1,1) = %v, want %v", g.Cell(1, 1), want)
	}
}

func TestDetectGrid_NoTable(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	if _, err := DetectGrid(img); !errors.Is(err, ErrNoTable) {
		t.Errorf("err = %v, want ErrNoTable", err)
	}
}

func TestPrepareCell(t *testing.T) {
	img := tableImage(scanCells)
	g, err := DetectGrid(img)
	if err != nil {
		t.Fatalf("DetectGrid: %v", err)
	}
	rect := g.Cell(0, 0)
	cell := prepareCell(img, rect, 3, 50, 2)
	if cell == nil {
		t.Fatal("prepareCell returned nil")
	}
	wantW := int(float64(rect.Dx()-6)*2) + 100
	wantH := int(float64(rect.Dy()-6)*2) + 100
	if cell.Bounds().Dx() != wantW || cell.Bounds().Dy() != wantH {
		t.Errorf("size = %v, want %dx%d", cell.Bounds().Size(), wantW, wantH)
	}
	// Padding stays white.
	if y := cell.GrayAt(0, 0).Y; y != 0xff {
		t.Errorf("padding gray = %d, want 255", y)
	}
}

func scanDoc() []byte {
	return pdftest.Build(pdftest.Page{Texts: []pdftest.Text{{X: 1, Y: 1, S: "."}}})
}

func TestParser_OCRFlagAndCleanup(t *testing.T) {
	// WHAT: Recognised cells become records flagged OCR with cleaned names.
	// WHY: Consumers warn "verify manually" based on the flag.
	rec := newScripted(scanCells)
	rec.conf[10] = 0.4 // "Rossi一"
	var low []string
	root := t.TempDir()
	p := NewParser(rec, Config{ScratchDir: root}, WithLowConfidenceHook(func(text string, _ float64) {
		low = append(low, text)
	}))
	img := tableImage(scanCells)
	p.pageImage = func([]byte) (image.Image, error) { return img, nil }

	vs, err := p.TryParse(context.Background(), scanDoc())
	if err != nil {
		t.Fatalf("TryParse: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("got %d records, want 2", len(vs))
	}
	for _, v := range vs {
		if !v.OCR {
			t.Errorf("record %s hour %d not flagged OCR", v.ClassName, v.Hour)
		}
	}
	a := vs[0]
	if a.ClassName != "3A" || a.Classroom != "L12" {
		t.Errorf("first record class/room = %s/%s", a.ClassName, a.Classroom)
	}
	if a.Teacher != "Rossi" || a.Substitute1 != "Verdi" || a.Substitute2 != variation.NoPerson {
		t.Errorf("first record people = %q %q %q", a.Teacher, a.Substitute1, a.Substitute2)
	}
	if vs[1].ClassName != "4BI" || vs[1].Substitute1 != variation.NoPerson {
		t.Errorf("second record = %+v", vs[1])
	}
	if len(low) != 1 || low[0] != "Rossi一" {
		t.Errorf("low confidence cells = %q", low)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read scratch root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch not purged: %d entries left", len(entries))
	}
}

func TestParser_NoHeaderIsNoMatch(t *testing.T) {
	cells := [][]string{{"foo", "bar"}, {"1", "2"}}
	root := t.TempDir()
	p := NewParser(newScripted(cells), Config{ScratchDir: root})
	img := tableImage(cells)
	p.pageImage = func([]byte) (image.Image, error) { return img, nil }

	if _, err := p.TryParse(context.Background(), scanDoc()); err == nil {
		t.Fatal("expected no match")
	}
	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Errorf("scratch not purged: %d entries left", len(entries))
	}
}

func TestParser_RecognizerErrorPurgesScratch(t *testing.T) {
	root := t.TempDir()
	p := NewParser(&scriptedRecognizer{}, Config{ScratchDir: root})
	img := tableImage(scanCells)
	p.pageImage = func([]byte) (image.Image, error) { return img, nil }

	if _, err := p.TryParse(context.Background(), scanDoc()); err == nil {
		t.Fatal("expected recognizer error")
	}
	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Errorf("scratch not purged: %d entries left", len(entries))
	}
}

// exclusiveRecognizer fails the test if two calls overlap.
type exclusiveRecognizer struct {
	t      *testing.T
	inside atomic.Int32
	calls  atomic.Int32
}

func (e *exclusiveRecognizer) Recognize(context.Context, []byte) (Recognition, error) {
	if e.inside.Add(1) != 1 {
		e.t.Error("concurrent recognition")
	}
	time.Sleep(time.Millisecond)
	e.inside.Add(-1)
	e.calls.Add(1)
	return Recognition{Text: "x", Confidence: 1}, nil
}

func TestEngine_SerializesAndInitsOnce(t *testing.T) {
	// WHAT: The recognizer is built lazily, once, and never used concurrently.
	// WHY: The OCR model is expensive and not thread-safe.
	var built atomic.Int32
	rec := &exclusiveRecognizer{t: t}
	e := NewEngine(func() (Recognizer, error) {
		built.Add(1)
		return rec, nil
	}, nil)
	defer e.Close()
	if n := built.Load(); n != 0 {
		t.Fatalf("recognizer built %d times before first use", n)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Recognize(context.Background(), []byte{1}); err != nil {
				t.Errorf("Recognize: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := built.Load(); n != 1 {
		t.Errorf("recognizer built %d times, want 1", n)
	}
	if n := rec.calls.Load(); n != 8 {
		t.Errorf("recognitions = %d, want 8", n)
	}
}

func TestEngine_InitRetriedAfterFailure(t *testing.T) {
	// WHAT: A failed recognizer build is retried on the next request and
	// the first success is kept.
	// WHY: A model server that was down at startup must not disable the
	// OCR fallback until restart.
	var built atomic.Int32
	e := NewEngine(func() (Recognizer, error) {
		if built.Add(1) == 1 {
			return nil, errors.New("no model")
		}
		return &exclusiveRecognizer{t: t}, nil
	}, nil)
	defer e.Close()

	if _, err := e.Recognize(context.Background(), []byte{1}); err == nil || err.Error() != "no model" {
		t.Fatalf("first call: err = %v, want no model", err)
	}
	for i := 0; i < 2; i++ {
		rec, err := e.Recognize(context.Background(), []byte{1})
		if err != nil {
			t.Fatalf("call %d after recovery: %v", i, err)
		}
		if rec.Text != "x" {
			t.Errorf("text = %q", rec.Text)
		}
	}
	if n := built.Load(); n != 2 {
		t.Errorf("factory calls = %d, want 2", n)
	}
}

func TestEngine_Close(t *testing.T) {
	e := NewEngine(func() (Recognizer, error) { return nil, errors.New("no model") }, nil)
	if _, err := e.Recognize(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected init error")
	}
	e.Close()
	if _, err := e.Recognize(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close: err = %v, want ErrClosed", err)
	}

	idle := NewEngine(func() (Recognizer, error) { return nil, nil }, nil)
	idle.Close()
	if _, err := idle.Recognize(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("never started: err = %v, want ErrClosed", err)
	}
}

func TestCleanClass(t *testing.T) {
	cases := map[string]string{"3a": "3A", "4B1": "4BI", " 5 inf ": "5INF", "2C0": "2CO", "ABC": "ABC"}
	for in, want := range cases {
		if got := cleanClass(in); got != want {
			t.Errorf("cleanClass(%q) = %q, want %q", in, got, want)
		}
	}
}

package layout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/variazioni/variation"
)

// Rotations is the fixed trial order.
var Rotations = []int{0, 90, 180, 270}

// Rotator returns a rotated copy of a document.
type Rotator interface {
	Rotate(doc []byte, degrees int) ([]byte, error)
}

// Rotating retries its parser on rotated copies of the document. Scans are
// not reliably oriented and nothing in the file says which way is up.
type Rotating struct {
	parser  Parser
	rotator Rotator
	logger  *slog.Logger
	onMatch func(parser string, degrees int)
}

// RotatingOption configures a Rotating parser.
type RotatingOption func(*Rotating)

// WithRotationLogger sets the logger. Default: slog.Default().
func WithRotationLogger(l *slog.Logger) RotatingOption {
	return func(r *Rotating) { r.logger = l }
}

// WithRotationHook is called with the angle that produced records.
func WithRotationHook(fn func(parser string, degrees int)) RotatingOption {
	return func(r *Rotating) { r.onMatch = fn }
}

// NewRotating wraps p.
func NewRotating(p Parser, rot Rotator, opts ...RotatingOption) *Rotating {
	r := &Rotating{parser: p, rotator: rot, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Rotating) Name() string { return r.parser.Name() }

// TryParse returns the first non-empty result over Rotations. Each attempt
// gets its own copy of doc.
func (r *Rotating) TryParse(ctx context.Context, doc []byte) ([]variation.Variation, error) {
	for _, deg := range Rotations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rotated, err := r.rotator.Rotate(append([]byte(nil), doc...), deg)
		if err != nil {
			r.logger.Debug("layout: rotate failed", "parser", r.parser.Name(), "degrees", deg, "error", err)
			continue
		}
		vs, err := r.parser.TryParse(ctx, rotated)
		if err == nil && len(vs) > 0 {
			if r.onMatch != nil {
				r.onMatch(r.parser.Name(), deg)
			}
			return vs, nil
		}
		if err != nil && !errors.Is(err, ErrNoMatch) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("layout: attempt failed", "parser", r.parser.Name(), "degrees", deg, "error", err)
		}
	}
	return nil, ErrNoMatch
}

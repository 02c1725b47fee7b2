// Package layout turns variation documents into records. Each publisher
// layout generation is one Parser; parsers are tried in a fixed order by a
// Chain and the first one that produces records wins.
//
// A parser that does not recognise a document returns ErrNoMatch. That is
// the expected outcome for every generation but one and is never logged
// as an error.
package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/variazioni/variation"
)

// ErrNoMatch reports that a parser does not recognise the document.
var ErrNoMatch = errors.New("layout: no match")

// Parser extracts variations from raw document bytes. Returned records carry
// no date; the caller assigns it from the document's origin.
type Parser interface {
	Name() string
	TryParse(ctx context.Context, doc []byte) ([]variation.Variation, error)
}

// Match is the outcome of a successful chain run.
type Match struct {
	Parser     string                `json:"parser"`
	Variations []variation.Variation `json:"variations"`
}

// Chain tries parsers in order.
type Chain struct {
	parsers []Parser
	logger  *slog.Logger
}

// NewChain builds a chain. A nil logger uses slog.Default().
func NewChain(logger *slog.Logger, parsers ...Parser) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{parsers: parsers, logger: logger}
}

// Parsers returns the parser names in priority order.
func (c *Chain) Parsers() []string {
	names := make([]string, len(c.parsers))
	for i, p := range c.parsers {
		names[i] = p.Name()
	}
	return names
}

// Parse returns the first non-empty result. Unexpected parser errors are
// logged and the chain moves on; when nothing matches the error wraps
// ErrNoMatch. A cancelled context stops the chain.
func (c *Chain) Parse(ctx context.Context, doc []byte) (Match, error) {
	var failures []error
	for _, p := range c.parsers {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}
		vs, err := p.TryParse(ctx, doc)
		switch {
		case err == nil && len(vs) > 0:
			return Match{Parser: p.Name(), Variations: vs}, nil
		case err == nil, errors.Is(err, ErrNoMatch):
			c.logger.Debug("layout: no match", "parser", p.Name())
		default:
			if ctx.Err() != nil {
				return Match{}, ctx.Err()
			}
			c.logger.Warn("layout: parser failed", "parser", p.Name(), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(failures) > 0 {
		return Match{}, fmt.Errorf("%w: %w", ErrNoMatch, errors.Join(failures...))
	}
	return Match{}, ErrNoMatch
}

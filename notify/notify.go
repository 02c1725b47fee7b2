// Package notify turns a classified batch into the per-class payload handed
// to the chat layer, and delivers it. Rendering and chat transport live
// outside this service; a Notifier only carries structured changes.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/variazioni/variation"
)

// Change is one difference as the chat layer sees it.
type Change struct {
	Type         variation.Type    `json:"var_type"`
	Date         variation.Date    `json:"date"`
	Hour         int               `json:"hour"`
	Teacher      variation.Person  `json:"teacher"`
	Classroom    string            `json:"classroom"`
	Substitute1  variation.Person  `json:"substitute_1"`
	Substitute2  variation.Person  `json:"substitute_2"`
	Notes        *string           `json:"notes"`
	OCR          bool              `json:"ocr"`
	EditedFields []variation.Field `json:"edited_fields,omitempty"`
}

// Payload maps a class name to its changes ordered by date, hour and
// teacher.
type Payload map[string][]Change

// Classes returns the number of classes touched.
func (p Payload) Classes() int { return len(p) }

// BuildPayload groups the labelled records of b by class. Unlabelled
// records are skipped.
func BuildPayload(b variation.Batch) Payload {
	var labelled []variation.Variation
	for _, v := range b.All() {
		if v.Type != variation.TypeUnchanged {
			labelled = append(labelled, v)
		}
	}
	groups, names := variation.ByClass(labelled)
	p := make(Payload, len(names))
	for _, name := range names {
		changes := make([]Change, 0, len(groups[name]))
		for _, v := range groups[name] {
			c := Change{
				Type: v.Type, Date: v.Date, Hour: v.Hour, Teacher: v.Teacher,
				Classroom: v.Classroom, Substitute1: v.Substitute1, Substitute2: v.Substitute2,
				OCR: v.OCR, EditedFields: v.EditedFields,
			}
			if v.Notes != nil {
				n := *v.Notes
				c.Notes = &n
			}
			changes = append(changes, c)
		}
		p[name] = changes
	}
	return p
}

// AlertKind names an operator alert.
type AlertKind string

const (
	// AlertLayoutChanged: the listing page no longer has the link container.
	AlertLayoutChanged AlertKind = "layout_changed"
	// AlertMissingTomorrow: evening check found no variations for the next
	// school day although documents are listed.
	AlertMissingTomorrow AlertKind = "missing_tomorrow"
)

// Alert is a message for operators rather than students.
type Alert struct {
	Kind    AlertKind      `json:"kind"`
	Message string         `json:"message"`
	Date    variation.Date `json:"date,omitzero"`
}

// Notifier delivers payloads and alerts.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
	Alert(ctx context.Context, a Alert) error
}

// LogNotifier writes payloads and alerts to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogNotifier) Notify(_ context.Context, p Payload) error {
	for class, changes := range p {
		for _, c := range changes {
			l.logger().Info("variation", "class", class, "type", c.Type, "date", c.Date,
				"hour", c.Hour, "teacher", c.Teacher, "substitute_1", c.Substitute1, "ocr", c.OCR)
		}
	}
	return nil
}

func (l LogNotifier) Alert(_ context.Context, a Alert) error {
	l.logger().Warn("alert", "kind", a.Kind, "message", a.Message, "date", a.Date)
	return nil
}

// Multi fans out to several notifiers. Every notifier is called; errors
// are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, p Payload) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.Notify(ctx, p))
	}
	return errors.Join(errs...)
}

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.Alert(ctx, a))
	}
	return errors.Join(errs...)
}

// Package variation defines the canonical schedule-variation record, its
// identity, and the per-date batch passed between parsing and classification.
//
// A Variation is one substitution event: for a given date and hour, the
// absent teacher of a class is covered by up to two substitutes. Records are
// created transiently by the layout parsers, annotated by the classifier, and
// made durable by the store.
package variation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is returned by Validate for records that must never be stored.
var ErrInvalid = errors.New("variation: invalid record")

// Person is a normalized teacher name. NoPerson is the explicit "none" value;
// the empty string is never a valid Person.
type Person string

// NoPerson marks a slot that legitimately has no teacher or substitute.
const NoPerson Person = "-"

// IsNone reports whether p is the explicit "none" sentinel.
func (p Person) IsNone() bool { return p == NoPerson }

func (p Person) String() string { return string(p) }

// Type is the classification state of a record.
type Type string

const (
	TypeUnchanged Type = ""
	TypeNew       Type = "new"
	TypeEdited    Type = "edited"
	TypeRemoved   Type = "removed"
)

// Field names a mutable attribute compared during classification.
type Field string

const (
	FieldClassroom   Field = "classroom"
	FieldSubstitute1 Field = "substitute_1"
	FieldSubstitute2 Field = "substitute_2"
	FieldNotes       Field = "notes"
)

// MutableFields lists the attributes that can change without altering identity.
var MutableFields = []Field{FieldClassroom, FieldSubstitute1, FieldSubstitute2, FieldNotes}

var classNameRe = regexp.MustCompile(`^\d+[A-Z]+$`)

// ValidClassName reports whether s looks like "3A", "4BI", "5INF".
func ValidClassName(s string) bool { return classNameRe.MatchString(s) }

// Variation is one substitution event for one class-hour on one date.
type Variation struct {
	Date         Date    `json:"date"`
	Hour         int     `json:"hour"`
	ClassName    string  `json:"class_name"`
	Classroom    string  `json:"classroom"`
	Teacher      Person  `json:"teacher"`
	Substitute1  Person  `json:"substitute_1"`
	Substitute2  Person  `json:"substitute_2"`
	Notes        *string `json:"notes"`
	OCR          bool    `json:"ocr"`
	Type         Type    `json:"var_type,omitempty"`
	EditedFields []Field `json:"edited_fields,omitempty"`
}

// Identity is the key used to match the same slot across polling cycles.
type Identity struct {
	Date      Date
	Hour      int
	ClassName string
	Teacher   Person
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", id.Date, id.Hour, id.ClassName, id.Teacher)
}

// Identity returns the record's identity tuple.
func (v Variation) Identity() Identity {
	return Identity{Date: v.Date, Hour: v.Hour, ClassName: v.ClassName, Teacher: v.Teacher}
}

// Validate enforces the invariants every parsed or stored record satisfies.
func (v Variation) Validate() error {
	switch {
	case v.Hour < 1:
		return fmt.Errorf("%w: hour %d", ErrInvalid, v.Hour)
	case !ValidClassName(v.ClassName):
		return fmt.Errorf("%w: class name %q", ErrInvalid, v.ClassName)
	case v.Teacher == "" || v.Substitute1 == "" || v.Substitute2 == "":
		return fmt.Errorf("%w: empty person in %s", ErrInvalid, v.Identity())
	}
	return nil
}

// NotesText returns the notes or "" when absent.
func (v Variation) NotesText() string {
	if v.Notes == nil {
		return ""
	}
	return *v.Notes
}

// Diff returns the mutable fields whose values differ between v and other,
// in MutableFields order.
func (v Variation) Diff(other Variation) []Field {
	var out []Field
	if v.Classroom != other.Classroom {
		out = append(out, FieldClassroom)
	}
	if v.Substitute1 != other.Substitute1 {
		out = append(out, FieldSubstitute1)
	}
	if v.Substitute2 != other.Substitute2 {
		out = append(out, FieldSubstitute2)
	}
	if !sameNotes(v.Notes, other.Notes) {
		out = append(out, FieldNotes)
	}
	return out
}

func sameNotes(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Clone returns a deep copy.
func (v Variation) Clone() Variation {
	c := v
	if v.Notes != nil {
		n := *v.Notes
		c.Notes = &n
	}
	if v.EditedFields != nil {
		c.EditedFields = append([]Field(nil), v.EditedFields...)
	}
	return c
}

// NormalizePerson cleans a raw name cell: anything after the first hyphen is
// an annotation, underscores stand for spaces, and an empty result becomes
// NoPerson.
func NormalizePerson(raw string) Person {
	name, _, _ := strings.Cut(raw, "-")
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return NoPerson
	}
	return Person(name)
}

// NormalizeNotes collapses embedded newlines to spaces. Empty notes are nil.
func NormalizeNotes(raw string) *string {
	s := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(raw)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// NormalizeClassroom trims a classroom cell; empty becomes "-".
func NormalizeClassroom(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return string(NoPerson)
	}
	return s
}

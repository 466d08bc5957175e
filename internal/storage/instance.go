package storage

import (
	"strconv"
	"time"
)

// LabelKind tells which field of a Label is meaningful.
type LabelKind string

const (
	LabelText   LabelKind = "text"   // free-text category
	LabelIndex  LabelKind = "index"  // numeric category
	LabelTarget LabelKind = "target" // continuous regression target
)

// Label is the user-supplied value attached to an instance at capture time.
type Label struct {
	Kind  LabelKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Index int       `json:"index,omitempty"`
	Value float64   `json:"value,omitempty"`
}

func TextLabel(s string) Label    { return Label{Kind: LabelText, Text: s} }
func IndexLabel(i int) Label      { return Label{Kind: LabelIndex, Index: i} }
func TargetLabel(v float64) Label { return Label{Kind: LabelTarget, Value: v} }

// Class returns the label as a class name. Numeric categories and targets are
// formatted as decimal strings.
func (l Label) Class() string {
	switch l.Kind {
	case LabelIndex:
		return strconv.Itoa(l.Index)
	case LabelTarget:
		return strconv.FormatFloat(l.Value, 'g', -1, 64)
	default:
		return l.Text
	}
}

// Target returns the numeric value of the label and whether it has one.
func (l Label) Target() (float64, bool) {
	switch l.Kind {
	case LabelTarget:
		return l.Value, true
	case LabelIndex:
		return float64(l.Index), true
	case LabelText:
		v, err := strconv.ParseFloat(l.Text, 64)
		return v, err == nil
	default:
		return 0, false
	}
}

// IsZero reports whether the label was never set.
func (l Label) IsZero() bool {
	return l.Kind == ""
}

// Instance is one persisted training example.
type Instance struct {
	ID        string    `json:"id"`
	X         []float64 `json:"x"`
	Y         Label     `json:"y"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

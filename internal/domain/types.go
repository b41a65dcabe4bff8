package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level is the depth of a scope in the textbook hierarchy
type Level int

const (
	Textbook Level = iota
	Unit
	Chapter
	Lesson
)

// Levels lists every level from the top of the hierarchy down
var Levels = []Level{Textbook, Unit, Chapter, Lesson}

var levelLabels = map[Level]string{
	Textbook: "Textbook",
	Unit:     "Unit",
	Chapter:  "Chapter",
	Lesson:   "Lesson",
}

// Label returns the display name of the level
func (l Level) Label() string {
	if s, ok := levelLabels[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func (l Level) String() string { return l.Label() }

// Valid reports whether l is one of the four hierarchy levels
func (l Level) Valid() bool {
	return l >= Textbook && l <= Lesson
}

// IsLeaf reports whether nodes at this level never have children
func (l Level) IsLeaf() bool {
	return l == Lesson
}

// Next returns the level of the children of a node at level l
func (l Level) Next() (Level, bool) {
	if !l.Valid() || l.IsLeaf() {
		return 0, false
	}
	return l + 1, true
}

// ParseLevel accepts a label ("chapter") or a digit ("2")
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		l := Level(n)
		if !l.Valid() {
			return 0, fmt.Errorf("unknown level: %d", n)
		}
		return l, nil
	}
	for l, label := range levelLabels {
		if strings.EqualFold(label, s) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level: %q", s)
}

// Ref identifies a node. Ids are only unique within a level.
type Ref struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

func (r Ref) String() string {
	return r.Level.Label() + ":" + r.ID
}

// Node is one scope in the hierarchy. Children are discovered lazily and
// are tracked by the tree and selection indexes, not on the node.
type Node struct {
	ID       string `json:"id"`
	Level    Level  `json:"level"`
	Title    string `json:"title"`
	ParentID string `json:"parent_id,omitempty"`
}

// Ref returns the identity of the node
func (n Node) Ref() Ref {
	return Ref{Level: n.Level, ID: n.ID}
}

// ParentRef returns the identity of the node's parent, if it has one
func (n Node) ParentRef() (Ref, bool) {
	if n.Level == Textbook || n.ParentID == "" {
		return Ref{}, false
	}
	return Ref{Level: n.Level - 1, ID: n.ParentID}, true
}

// Selected is the minimal record kept for a chosen scope
type Selected struct {
	ID    string `json:"id"`
	Level Level  `json:"level"`
	Title string `json:"title"`
}

// Ref returns the identity of the selected scope
func (s Selected) Ref() Ref {
	return Ref{Level: s.Level, ID: s.ID}
}

// Mode tells how the scopes of an exam were chosen
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle:
		return ModeSingle, nil
	case ModeMulti:
		return ModeMulti, nil
	}
	return "", fmt.Errorf("unknown mode: %q", s)
}

// Exam is a custom exam built from one or more scopes
type Exam struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Mode         Mode      `json:"mode"`
	Scopes       []Ref     `json:"scopes"`
	ProblemCount int       `json:"problem_count"`
	ProblemIDs   []int64   `json:"problem_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// DefaultProblemCount is the number of problems drawn for a scope of the
// given level when the form does not set one
func DefaultProblemCount(l Level) int {
	switch l {
	case Textbook:
		return 50
	case Unit:
		return 40
	case Chapter:
		return 25
	default:
		return 10
	}
}

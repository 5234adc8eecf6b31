// Package keylog turns a raw stream of key press/release events into
// coalesced, privacy-filtered keystroke entries.
package keylog

import (
	"errors"
	"fmt"
	"unicode"
)

// Canonical special-key names. Event sources normalize platform-specific
// names to these before delivery.
const (
	NameEnter     = "Enter"
	NameTab       = "Tab"
	NameBackspace = "Backspace"
	NameEscape    = "Esc"
	NameDelete    = "Delete"
	NameSpace     = "Space"
	NameUp        = "Up"
	NameDown      = "Down"
	NameLeft      = "Left"
	NameRight     = "Right"
	NameShift     = "Shift"
	NameCtrl      = "Ctrl"
	NameAlt       = "Alt"
	NameMeta      = "Meta"
)

// ErrMalformedKey marks an event carrying neither a rune nor a name.
var ErrMalformedKey = errors.New("keylog: key event carries neither rune nor name")

// Key identifies one pressed or released key: a printable rune, or a named
// special key. Exactly one of the two is set.
type Key struct {
	Rune rune
	Name string
}

// Char returns a printable-rune key.
func Char(r rune) Key { return Key{Rune: r} }

// Special returns a named special key.
func Special(name string) Key { return Key{Name: name} }

// Modifiers is the modifier state delivered alongside each event. It travels
// with the event; nothing in this package tracks held keys globally.
type Modifiers struct {
	Shift bool
	Ctrl  bool
	Alt   bool
	Meta  bool
}

// Token resolves a key to its display token: the printable rune as itself,
// or the bracketed special name, e.g. "[Enter]".
func (k Key) Token() (string, error) {
	switch {
	case k.Name != "":
		return "[" + k.Name + "]", nil
	case k.Rune != 0:
		if !unicode.IsPrint(k.Rune) {
			return "", fmt.Errorf("keylog: unprintable rune %q without a name", k.Rune)
		}
		return string(k.Rune), nil
	default:
		return "", ErrMalformedKey
	}
}

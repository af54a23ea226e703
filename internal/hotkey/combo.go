// Package hotkey parses human-readable key combos ("Ctrl+Alt+X") and
// matches them against raw keyboard events forwarded by the UI shell.
package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonical modifier tokens. Aliases from every platform spelling collapse
// onto these four.
const (
	ModCtrl  = "CTRL"
	ModShift = "SHIFT"
	ModAlt   = "ALT"
	ModSuper = "SUPER"
)

var modifierAliases = map[string]string{
	"CTRL":    ModCtrl,
	"CONTROL": ModCtrl,
	"SHIFT":   ModShift,
	"ALT":     ModAlt,
	"OPTION":  ModAlt,
	"META":    ModSuper,
	"SUPER":   ModSuper,
	"CMD":     ModSuper,
	"WIN":     ModSuper,
	"WINDOWS": ModSuper,
}

var (
	ErrEmptyCombo = errors.New("hotkey combo must not be empty")
)

// KeyEvent is the read-only view of a host keyboard event. Editable marks
// events whose target is a text input, textarea or content-editable node.
type KeyEvent struct {
	Key      string
	Code     string
	Ctrl     bool
	Shift    bool
	Alt      bool
	Meta     bool
	Repeat   bool
	Editable bool
}

// Combo is a parsed hotkey: a set of modifiers plus at most one main key.
// A combo without a main key is modifier-only and uses a different release
// detection rule.
type Combo struct {
	Ctrl    bool
	Shift   bool
	Alt     bool
	Super   bool
	MainKey string
}

// ParseCombo tokenizes text on '+', upper-cases tokens, folds modifier
// aliases and validates the single main key (one alphanumeric character,
// F1..F24 or Space).
func ParseCombo(text string) (Combo, error) {
	if strings.TrimSpace(text) == "" {
		return Combo{}, ErrEmptyCombo
	}

	var combo Combo
	mainKeys := 0
	for _, raw := range strings.Split(text, "+") {
		token := strings.ToUpper(strings.TrimSpace(raw))
		if token == "" {
			return Combo{}, fmt.Errorf("invalid hotkey token %q in %q", raw, text)
		}
		if canonical, ok := modifierAliases[token]; ok {
			switch canonical {
			case ModCtrl:
				combo.Ctrl = true
			case ModShift:
				combo.Shift = true
			case ModAlt:
				combo.Alt = true
			case ModSuper:
				combo.Super = true
			}
			continue
		}
		if !isMainKeyToken(token) {
			return Combo{}, fmt.Errorf("invalid hotkey token %q in %q", raw, text)
		}
		mainKeys++
		if mainKeys > 1 {
			return Combo{}, fmt.Errorf("hotkey %q has more than one main key", text)
		}
		combo.MainKey = token
	}
	return combo, nil
}

func isMainKeyToken(token string) bool {
	if token == "SPACE" {
		return true
	}
	if n, ok := strings.CutPrefix(token, "F"); ok {
		if num, err := strconv.Atoi(n); err == nil {
			return num >= 1 && num <= 24
		}
	}
	if len(token) == 1 {
		c := token[0]
		return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	}
	return false
}

// IsModifierOnly reports whether the combo has no main key.
func (c Combo) IsModifierOnly() bool {
	return c.MainKey == ""
}

// String renders the canonical form: sorted modifiers, then the main key.
// Parsing the result yields a combo that matches the same events.
func (c Combo) String() string {
	var mods []string
	if c.Alt {
		mods = append(mods, ModAlt)
	}
	if c.Ctrl {
		mods = append(mods, ModCtrl)
	}
	if c.Shift {
		mods = append(mods, ModShift)
	}
	if c.Super {
		mods = append(mods, ModSuper)
	}
	sort.Strings(mods)
	if c.MainKey != "" {
		mods = append(mods, c.MainKey)
	}
	return strings.Join(mods, "+")
}

// Matches reports whether ev triggers the combo. Modifier flags must equal
// the expected set exactly; extra pressed modifiers disqualify the match.
func (c Combo) Matches(ev KeyEvent) bool {
	if !c.modifiersExact(ev) {
		return false
	}
	if c.MainKey == "" {
		mod, ok := eventModifier(ev)
		if !ok {
			return false
		}
		return c.hasModifier(mod)
	}
	return c.mainKeyMatches(ev)
}

// ReleasedBy reports whether a key-up event ends a hold of the combo. For
// a main-key combo the released key must be the main key. For a
// modifier-only combo the released key must be one of the combo's
// modifiers and the remaining held modifiers must no longer form an exact
// match.
func (c Combo) ReleasedBy(ev KeyEvent) bool {
	if c.MainKey != "" {
		return c.mainKeyMatches(ev)
	}
	mod, ok := eventModifier(ev)
	if !ok {
		return false
	}
	return c.hasModifier(mod) && !c.modifiersExact(ev)
}

func (c Combo) modifiersExact(ev KeyEvent) bool {
	return c.Ctrl == ev.Ctrl && c.Shift == ev.Shift && c.Alt == ev.Alt && c.Super == ev.Meta
}

func (c Combo) hasModifier(mod string) bool {
	switch mod {
	case ModCtrl:
		return c.Ctrl
	case ModShift:
		return c.Shift
	case ModAlt:
		return c.Alt
	case ModSuper:
		return c.Super
	}
	return false
}

func (c Combo) mainKeyMatches(ev KeyEvent) bool {
	key := normalizeEventKey(ev)
	return key != "" && key == c.MainKey
}

// normalizeEventKey maps an event's key/code pair onto the main-key token
// space. Space is recognised by either the code "Space" or the literal
// space character to tolerate platform differences.
func normalizeEventKey(ev KeyEvent) string {
	if ev.Key == " " || strings.EqualFold(ev.Code, "Space") || strings.EqualFold(ev.Key, "Spacebar") {
		return "SPACE"
	}
	if len(ev.Key) == 1 {
		return strings.ToUpper(ev.Key)
	}
	upper := strings.ToUpper(ev.Key)
	if isMainKeyToken(upper) {
		return upper
	}
	code := strings.ToUpper(ev.Code)
	if rest, ok := strings.CutPrefix(code, "KEY"); ok && len(rest) == 1 {
		return rest
	}
	if rest, ok := strings.CutPrefix(code, "DIGIT"); ok && len(rest) == 1 {
		return rest
	}
	if isMainKeyToken(code) {
		return code
	}
	return ""
}

// eventModifier resolves the event's own key identity to a canonical
// modifier token, for modifier-only combos.
func eventModifier(ev KeyEvent) (string, bool) {
	switch strings.ToUpper(ev.Key) {
	case "CONTROL", "CTRL":
		return ModCtrl, true
	case "SHIFT":
		return ModShift, true
	case "ALT", "ALTGRAPH", "OPTION":
		return ModAlt, true
	case "META", "OS", "SUPER", "WIN":
		return ModSuper, true
	}
	return "", false
}

func anyModifierHeld(ev KeyEvent) bool {
	return ev.Ctrl || ev.Shift || ev.Alt || ev.Meta
}

// ShouldSuppress decides whether the UI shell must swallow the host
// default action for ev. Events targeting editable surfaces are never
// suppressed so normal typing keeps working.
func ShouldSuppress(ev KeyEvent, combos ...Combo) bool {
	if ev.Editable {
		return false
	}
	key := normalizeEventKey(ev)
	if key == "SPACE" && anyModifierHeld(ev) {
		return true
	}
	for _, combo := range combos {
		if combo.Matches(ev) {
			return true
		}
		if combo.MainKey != "" && key == combo.MainKey && anyModifierHeld(ev) {
			return true
		}
	}
	return false
}

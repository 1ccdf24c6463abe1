// Package style maps bracketed message prefixes such as "(whisper)" to the
// expressive speaking styles understood by the speech service.
package style

import (
	"slices"
	"strings"
)

// Style is an expressive speaking style name as sent in the SSML
// mstts:express-as element.
type Style string

const (
	Angry      Style = "angry"
	Cheerful   Style = "cheerful"
	Excited    Style = "excited"
	Hopeful    Style = "hopeful"
	Sad        Style = "sad"
	Shouting   Style = "shouting"
	Terrified  Style = "terrified"
	Unfriendly Style = "unfriendly"
	Whispering Style = "whispering"
	Default    Style = "Default"
)

// Utterance is one unit of text to be spoken with its style.
type Utterance struct {
	Style Style
	Text  string
}

// Prefix pairs a literal message prefix with the style it selects.
type Prefix struct {
	Token string
	Style Style
}

// prefixes is scanned in order and the first match wins. No token is a
// prefix of another because every token ends in ")".
var prefixes = []Prefix{
	{"(angry)", Angry},
	{"(cheerful)", Cheerful},
	{"(excited)", Excited},
	{"(hopeful)", Hopeful},
	{"(sad)", Sad},
	{"(shouting)", Shouting},
	{"(shout)", Shouting},
	{"(terrified)", Terrified},
	{"(unfriendly)", Unfriendly},
	{"(whispering)", Whispering},
	{"(whisper)", Whispering},
	{"(default)", Default},
}

var styles = []Style{
	Angry, Cheerful, Excited, Hopeful, Sad,
	Shouting, Terrified, Unfriendly, Whispering, Default,
}

// Parse splits raw into a style and the text to speak. When raw starts with
// a known prefix the prefix is removed and the rest is trimmed. Otherwise
// the Default style is returned together with raw unchanged.
//
// A message that consists of a prefix only yields an empty Text.
func Parse(raw string) Utterance {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(raw, p.Token); ok {
			return Utterance{Style: p.Style, Text: strings.TrimSpace(rest)}
		}
	}
	return Utterance{Style: Default, Text: raw}
}

// Prefixes returns the prefix table in matching order.
func Prefixes() []Prefix {
	out := make([]Prefix, len(prefixes))
	copy(out, prefixes)
	return out
}

// Styles returns every supported style.
func Styles() []Style {
	out := make([]Style, len(styles))
	copy(out, styles)
	return out
}

// IsValid reports whether s is a supported style.
func (s Style) IsValid() bool {
	return slices.Contains(styles, s)
}

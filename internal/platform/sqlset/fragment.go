package sqlset

import "strings"

type segment struct {
	text string
	slot bool
}

// Fragment is administrator-authored SQL text with alias slots. Each slot is
// rendered as the alias of the statement that owns the fragment. The text
// around the slots is emitted verbatim.
type Fragment struct {
	segs []segment
	src  string
}

// ParseFragment splits text on occurrences of token. Occurrences inside
// single-quoted string literals are data and are left in place.
func ParseFragment(text, token string) Fragment {
	f := Fragment{src: text}
	if text == "" {
		return f
	}
	if token == "" {
		f.segs = []segment{{text: text}}
		return f
	}

	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(text); {
		c := text[i]
		if c == '\'' {
			if inQuote && i+1 < len(text) && text[i+1] == '\'' {
				cur.WriteString("''")
				i += 2
				continue
			}
			inQuote = !inQuote
			cur.WriteByte(c)
			i++
			continue
		}
		if !inQuote && strings.HasPrefix(text[i:], token) {
			if cur.Len() > 0 {
				f.segs = append(f.segs, segment{text: cur.String()})
				cur.Reset()
			}
			f.segs = append(f.segs, segment{slot: true})
			i += len(token)
			continue
		}
		cur.WriteByte(c)
		i++
	}
	if cur.Len() > 0 {
		f.segs = append(f.segs, segment{text: cur.String()})
	}
	return f
}

// Raw is a fragment with no alias slots.
func Raw(text string) Fragment {
	return ParseFragment(text, "")
}

// IsEmpty reports whether the fragment has no text.
func (f Fragment) IsEmpty() bool { return strings.TrimSpace(f.src) == "" }

// Slots returns the number of alias slots.
func (f Fragment) Slots() int {
	n := 0
	for _, s := range f.segs {
		if s.slot {
			n++
		}
	}
	return n
}

// String returns the fragment as authored.
func (f Fragment) String() string { return f.src }

// Package filename turns client-supplied file names into names that are safe
// to show and to use as a single storage path element.
package filename

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

// Fallback replaces a base name that sanitizes to nothing.
const Fallback = "file"

const maxLen = 255

var (
	disallowed = regexp.MustCompile(`[^a-z0-9_. \-()\[\]]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// translit maps lowercase Cyrillic letters to Latin. Uppercase input is
// lowered before lookup. Letters missing here (ъ, ь) are dropped.
var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ы': "y", 'э': "e", 'ю': "yu", 'я': "ya",
	'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g", 'ў': "u",
}

// Sanitize returns a lowercase name built only from [a-z0-9_. -()[]], with
// Cyrillic transliterated, whitespace collapsed and directories stripped.
// The extension is kept as a suffix; the base name is never empty.
func Sanitize(original string) string {
	name := path.Base(strings.ReplaceAll(original, `\`, "/"))
	if name == "/" || name == "." {
		name = ""
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		// ".bashrc" is a name, not an extension.
		base, ext = ext, ""
	}

	base = clean(base)
	if strings.Trim(base, ".") == "" {
		base = Fallback
	}

	ext = clean(ext)
	if strings.Trim(ext, ".") == "" {
		ext = ""
	}

	if len(base)+len(ext) > maxLen {
		if len(ext) >= maxLen {
			ext = ""
		}
		base = strings.TrimSpace(base[:maxLen-len(ext)])
	}
	return base + ext
}

func clean(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if latin, ok := translit[r]; ok {
			b.WriteString(latin)
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	out := disallowed.ReplaceAllString(b.String(), "")
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

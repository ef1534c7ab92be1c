// Package serializer converts a node's key/value map to and from the
// line-oriented .properties text format used for data files.
//
// Output is UTF-8, one "key=value" pair per line, keys in sorted order so
// data files diff cleanly. Parsing is delegated to magiconair/properties with
// ${} expansion disabled, so values are returned exactly as written.
package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"

	"github.com/magiconair/properties"
)

// Characters that terminate a key unless escaped.
const keySpecials = " :=#!"

// Marshal encodes m into its on-disk representation.
func Marshal(m map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal (or any .properties file).
// Malformed input yields a *common.FormatError.
func Unmarshal(data []byte) (map[string]string, error) {
	if !utf8.Valid(data) {
		return nil, &common.FormatError{Err: fmt.Errorf("data is not valid UTF-8")}
	}

	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, &common.FormatError{Line: lineOf(err), Err: err}
	}
	return p.Map(), nil
}

// Write serialises m to w in sorted key order. The format has no
// representation for an empty key, so one is rejected.
func Write(w io.Writer, m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "" {
			return fmt.Errorf("%w: empty key cannot be written", common.ErrInvalidKey)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		if _, err := fmt.Fprintf(bw, "%s=%s\n", escapeKey(k), escapeValue(m[k])); err != nil {
			return fmt.Errorf("failed to write key %q: %w", k, err)
		}
	}
	return bw.Flush()
}

// Read parses everything from r. I/O failures are returned wrapped; parse
// failures are *common.FormatError.
func Read(r io.Reader) (map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	return Unmarshal(data)
}

// lineOf extracts N from the loader's "properties: Line N: ..." messages.
func lineOf(err error) int {
	var line int
	if _, serr := fmt.Sscanf(err.Error(), "properties: Line %d:", &line); serr != nil {
		return 0
	}
	return line
}

func escapeKey(k string) string {
	var sb strings.Builder
	for _, r := range k {
		if strings.ContainsRune(keySpecials, r) {
			sb.WriteByte('\\')
			sb.WriteRune(r)
			continue
		}
		writeEscaped(&sb, r)
	}
	return sb.String()
}

func escapeValue(v string) string {
	// Leading and trailing blanks would be eaten by the separator scan or by
	// editors, so they are escaped individually.
	lead := len(v) - len(strings.TrimLeft(v, " \t\f"))
	trail := len(strings.TrimRight(v, " \t\f"))
	if trail < lead {
		trail = lead
	}

	var sb strings.Builder
	for i, r := range v {
		if r == ' ' && (i < lead || i >= trail) {
			sb.WriteString(`\ `)
			continue
		}
		writeEscaped(&sb, r)
	}
	return sb.String()
}

func writeEscaped(sb *strings.Builder, r rune) {
	switch r {
	case '\\':
		sb.WriteString(`\\`)
	case '\n':
		sb.WriteString(`\n`)
	case '\r':
		sb.WriteString(`\r`)
	case '\t':
		sb.WriteString(`\t`)
	case '\f':
		sb.WriteString(`\f`)
	default:
		if r < 0x20 || r == 0x7f {
			fmt.Fprintf(sb, `\u%04x`, r)
			return
		}
		sb.WriteRune(r)
	}
}

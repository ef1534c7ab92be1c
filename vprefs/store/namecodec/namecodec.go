// Package namecodec maps arbitrary node names onto directory names.
//
// A name made only of printable ASCII other than '/', '.' and '_' is used as
// is. Anything else becomes '_' followed by the base64 form of the name's
// UTF-16BE bytes. Because '_' is never a plain-name character the two forms
// cannot collide. The alphabet has no upper-case letters and no '/', so
// encoded names survive case-insensitive filesystems.
package namecodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

const (
	// Prefix marks an encoded directory name.
	Prefix = "_"

	alphabet = "!\"#$%&'(),-.:;<>@[]^`_{|}~abcdefghijklmnopqrstuvwxyz0123456789+?"
)

var (
	ErrMalformed = errors.New("malformed encoded directory name")

	altEncoding = base64.NewEncoding(alphabet).WithPadding(base64.NoPadding)
	utf16be     = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
)

// IsSafe reports whether c can appear verbatim in a directory name.
func IsSafe(c rune) bool {
	return c > 0x1f && c < 0x7f && c != '/' && c != '.' && c != '_'
}

// Encode returns the directory name for a node name. The empty name encodes
// to the empty string.
func Encode(name string) string {
	if name == "" {
		return ""
	}
	for _, c := range name {
		if !IsSafe(c) {
			raw, err := utf16be.NewEncoder().String(name)
			if err != nil {
				// Only reachable for invalid UTF-8, which callers reject up front.
				raw = name
			}
			return Prefix + altEncoding.EncodeToString([]byte(raw))
		}
	}
	return name
}

// Decode reverses Encode.
func Decode(dirName string) (string, error) {
	if !IsEncoded(dirName) {
		return dirName, nil
	}

	raw, err := altEncoding.DecodeString(strings.TrimPrefix(dirName, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrMalformed, dirName, err)
	}
	if len(raw)%2 != 0 {
		return "", fmt.Errorf("%w %q: odd UTF-16 byte count", ErrMalformed, dirName)
	}

	name, err := utf16be.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrMalformed, dirName, err)
	}
	if !utf8.Valid(name) {
		return "", fmt.Errorf("%w %q: invalid UTF-16", ErrMalformed, dirName)
	}
	return string(name), nil
}

// IsEncoded reports whether dirName carries the encoded-name prefix.
func IsEncoded(dirName string) bool {
	return strings.HasPrefix(dirName, Prefix)
}

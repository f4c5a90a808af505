// Package naming turns untrusted upload filenames into document titles and
// derives the user-scoped storage keys the bytes are written under.
package naming

import (
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// maxExtLen caps the extension carried into storage keys.
const maxExtLen = 16

// ErrEmptyFilename is returned when nothing usable is left after sanitization.
var ErrEmptyFilename = errors.New("filename is empty after sanitization")

// Filename is a sanitized upload name.
type Filename struct {
	// Title is the printable-ASCII subset of the original base name.
	Title string
	// Ext is the alphanumeric extension without the dot; empty if none.
	Ext string
}

// Sanitize strips directory components and every byte outside printable
// ASCII, then derives the extension from the last '.' of what remains.
func Sanitize(name string) (Filename, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		if c := name[i]; c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		}
	}

	title := strings.TrimSpace(b.String())
	if title == "" || title == "." || title == ".." {
		return Filename{}, ErrEmptyFilename
	}

	var ext string
	if i := strings.LastIndexByte(title, '.'); i >= 0 {
		ext = cleanExt(title[i+1:])
	}
	return Filename{Title: title, Ext: ext}, nil
}

func cleanExt(s string) string {
	var b strings.Builder
	for i := 0; i < len(s) && b.Len() < maxExtLen; i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// AllocateKey returns "<owner>/<random uuid>.<ext>", or "<owner>/<random uuid>"
// when ext is empty. Collisions are left to the storage layer to reject.
func AllocateKey(owner, ext string) string {
	key := url.PathEscape(owner) + "/" + uuid.NewString()
	if ext != "" {
		key += "." + ext
	}
	return key
}

// OwnerPrefix is the key prefix under which all of owner's objects live.
func OwnerPrefix(owner string) string {
	return url.PathEscape(owner) + "/"
}

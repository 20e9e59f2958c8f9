package download

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameRunes = 200
	// Leaves room for a collision suffix and extension under the usual 255 byte limit.
	maxNameBytes  = 240
	ellipsis      = "…"
	untitled      = "untitled"
	maxCollisions = 10000
)

// Sanitize turns an extracted title into a single safe path component. It
// removes characters that are illegal on common filesystems, collapses runs of
// whitespace, trims leading and trailing dots and spaces and truncates to 200
// runes including a trailing ellipsis. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	space := false
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r == utf8.RuneError, unicode.IsControl(r), strings.ContainsRune(`<>:"/\|?*`, r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	name := trimEdges(b.String())

	if utf8.RuneCountInString(name) > maxNameRunes || len(name) > maxNameBytes {
		runes := []rune(name)
		n := maxNameRunes - 1
		if n > len(runes) {
			n = len(runes)
		}
		for n > 0 && len(string(runes[:n]))+len(ellipsis) > maxNameBytes {
			n--
		}
		name = trimEdges(string(runes[:n])) + ellipsis
	}
	if name == "" {
		return untitled
	}
	return name
}

func trimEdges(s string) string {
	return strings.Trim(s, ". ")
}

// ResolveCollision returns the first path in dir among filename, name_1.ext,
// name_2.ext, ... that does not exist. It only observes the directory; use
// Claim when concurrent writers may pick the same name.
func ResolveCollision(dir, filename string) string {
	for i := 0; ; i++ {
		p := filepath.Join(dir, candidate(filename, i))
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			return p
		}
	}
}

// Claim is ResolveCollision with reservation: the returned path has been
// created empty with O_EXCL, so no other caller in any process can choose it.
// The caller is expected to replace it (for example by rename).
func Claim(dir, filename string) (string, error) {
	for i := 0; i < maxCollisions; i++ {
		p := filepath.Join(dir, candidate(filename, i))
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", err
			}
			return p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("claim %s: %w", p, err)
		}
	}
	return "", fmt.Errorf("claim %s: too many collisions", filename)
}

func candidate(filename string, n int) string {
	if n == 0 {
		return filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}

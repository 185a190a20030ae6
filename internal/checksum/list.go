package checksum

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Entry is one line of a checksum list.
type Entry struct {
	Digest []byte
	Path   string
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

// EscapePath returns path as it appears in a checksum list. A path holding a
// backslash or a line break gets its specials escaped and a leading backslash,
// the way coreutils marks escaped names.
func EscapePath(path string) string {
	if !strings.ContainsAny(path, "\\\n\r") {
		return path
	}
	return `\` + pathEscaper.Replace(path)
}

// FormatLine renders a digest in the coreutils layout: hex, two spaces, path.
func FormatLine(digest []byte, path string) string {
	escaped := EscapePath(path)
	if escaped == path {
		return hex.EncodeToString(digest) + "  " + path
	}
	return `\` + hex.EncodeToString(digest) + "  " + escaped[1:]
}

// WriteList writes one line per successfully hashed result.
func WriteList(w io.Writer, results []Result) error {
	bw := bufio.NewWriter(w)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if _, err := fmt.Fprintln(bw, FormatLine(r.Digest, r.Path)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseList reads a checksum list. Lines are "<hex>  <path>", "<hex> *<path>"
// or "<hex>\t<path>", optionally preceded by a backslash when the path is
// escaped. Blank lines and lines starting with '#' are skipped.
func ParseList(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseLine(text string) (Entry, error) {
	escaped := strings.HasPrefix(text, `\`)
	body := strings.TrimPrefix(text, `\`)

	// Hex digests hold neither spaces nor tabs, so the first one ends the digest.
	var digest, path string
	switch i := strings.IndexAny(body, " \t"); {
	case i < 0:
		return Entry{}, fmt.Errorf("malformed line %q", text)
	case body[i] == '\t':
		digest, path = body[:i], body[i+1:]
	case i+1 < len(body) && (body[i+1] == ' ' || body[i+1] == '*'):
		digest, path = body[:i], body[i+2:]
	default:
		return Entry{}, fmt.Errorf("malformed line %q", text)
	}

	if escaped {
		var err error
		if path, err = unescapePath(path); err != nil {
			return Entry{}, fmt.Errorf("path in %q: %w", text, err)
		}
	}
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return Entry{}, fmt.Errorf("digest for %s: %w", path, err)
	}
	if len(raw) == 0 {
		return Entry{}, fmt.Errorf("empty digest for %s", path)
	}
	if path == "" {
		return Entry{}, fmt.Errorf("missing path in %q", text)
	}
	return Entry{Digest: raw, Path: path}, nil
}

var errBadEscape = errors.New("bad escape sequence")

func unescapePath(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", errBadEscape
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", errBadEscape
		}
	}
	return b.String(), nil
}

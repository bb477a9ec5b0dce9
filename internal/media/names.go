package media

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const maxBaseLen = 50

// PhotoName builds "<base>_<yyyymmddHHMMSS>_<8 hex><ext>" for an uploaded photo.
func PhotoName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" || len(ext) > 6 {
		ext = ".jpg"
	}
	base := sanitize(strings.TrimSuffix(filepath.Base(original), filepath.Ext(original)))
	if base == "" {
		base = "photo"
	}
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s%s", base, now.Format("20060102150405"), token, ext)
}

// BaseName returns the last path element of a URL or path, ignoring any
// query string.
func BaseName(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	name := path.Base(strings.ReplaceAll(locator, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
		case r == '_' || unicode.IsSpace(r) || r == '.':
			b.WriteRune('_')
		}
		if b.Len() >= maxBaseLen {
			break
		}
	}
	return strings.Trim(b.String(), "_")
}

package conversation

import (
	"strings"
	"time"
)

// DefaultTitleLayout renders creation times the way a browser's toLocaleString does for en-US.
const DefaultTitleLayout = "1/2/2006, 3:04:05 PM"

// TitleFormatter renders the fallback title of a conversation without an explicit title.
type TitleFormatter func(created time.Time) string

func DefaultTitleFormatter(loc *time.Location) TitleFormatter {
	if loc == nil {
		loc = time.Local
	}
	return func(created time.Time) string {
		return "Conversation " + created.In(loc).Format(DefaultTitleLayout)
	}
}

// CleanTitle strips one pair of surrounding double quotes and whitespace.
// Server generated titles frequently arrive quoted.
func CleanTitle(title string) string {
	title = strings.TrimPrefix(title, `"`)
	title = strings.TrimSuffix(title, `"`)
	return strings.TrimSpace(title)
}

// DisplayTitle resolves the label shown for a conversation: the explicit title if it is
// non-empty once cleaned, otherwise the formatted creation time.
func DisplayTitle(title string, created time.Time, format TitleFormatter) string {
	if t := CleanTitle(title); t != "" {
		return t
	}
	if format == nil {
		format = DefaultTitleFormatter(nil)
	}
	return format(created)
}

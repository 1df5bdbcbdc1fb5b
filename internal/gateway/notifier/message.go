package notifier

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"spotpilot/internal/pkg/text"
)

const maxMessageLen = 3800

var kindTitles = map[Kind]string{
	KindTradeExecuted: "Trade executed",
	KindTradeSkipped:  "Trade skipped",
	KindOCOPlaced:     "OCO exit placed",
	KindEntryFilled:   "Entry filled",
	KindEntryExpired:  "Entry expired",
	KindError:         "Error",
}

// Render produces the plain text body of an event: a title line, the
// message, sorted key=value fields and the timestamp.
func Render(evt Event) string {
	var b strings.Builder
	title := kindTitles[evt.Kind]
	if title == "" {
		title = string(evt.Kind)
	}
	b.WriteString(title)
	if sym := strings.TrimSpace(evt.Symbol); sym != "" {
		b.WriteString(" " + sym)
	}
	if evt.RecommendationID > 0 {
		b.WriteString(" #")
		b.WriteString(strconv.FormatInt(evt.RecommendationID, 10))
	}
	b.WriteString("\n")
	if msg := strings.TrimSpace(evt.Message); msg != "" {
		b.WriteString(msg + "\n")
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(evt.Fields[k])
		if v == "" {
			continue
		}
		b.WriteString("- " + k + ": " + v + "\n")
	}
	if !evt.At.IsZero() {
		b.WriteString(evt.At.UTC().Format(time.RFC3339))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxMessageLen)
}

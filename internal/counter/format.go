package counter

import "fmt"

// FormatCount renders today's total for the menu bar title.
func FormatCount(count int64) string {
	switch count {
	case 0:
		return "Waiting for first keystroke..."
	case 1:
		return "👍 First key!"
	}

	var prefix string
	switch {
	case count < 500:
		prefix = "👍 "
	case count < 1000:
		prefix = "🏃 "
	case count < 5000:
		prefix = "💨 "
	case count < 10000:
		prefix = "🙌 "
	case count < 20000:
		prefix = "🚀 "
	case count < 30000:
		prefix = "🥳 "
	case count <= 40000:
		prefix = "🔥 "
	case count <= 60000:
		prefix = "🤯 "
	}

	suffix := ""
	if count < 100 {
		suffix = " today"
	}
	return fmt.Sprintf("%s%d keys%s", prefix, count, suffix)
}

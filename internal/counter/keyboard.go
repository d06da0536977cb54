package counter

// Key is one physical key of a US ANSI layout, labelled by the characters it produces.
type Key struct {
	Shifted   string
	Unshifted string
}

// KeyCount is a key together with today's presses of either of its characters.
type KeyCount struct {
	Key
	Count int64
}

// KeyboardData is the heat-map projection of the key histogram.
type KeyboardData struct {
	Rows [][]KeyCount
	Max  int64
}

// KeyboardRows is the layout used by the heat map.
var KeyboardRows = [][]Key{
	{{"~", "`"}, {"!", "1"}, {"@", "2"}, {"#", "3"}, {"$", "4"}, {"%", "5"}, {"^", "6"},
		{"&", "7"}, {"*", "8"}, {"(", "9"}, {")", "0"}, {"_", "-"}, {"+", "="}},
	{{"Q", "q"}, {"W", "w"}, {"E", "e"}, {"R", "r"}, {"T", "t"}, {"Y", "y"}, {"U", "u"},
		{"I", "i"}, {"O", "o"}, {"P", "p"}, {"{", "["}, {"}", "]"}, {"|", "\\"}},
	{{"A", "a"}, {"S", "s"}, {"D", "d"}, {"F", "f"}, {"G", "g"}, {"H", "h"}, {"J", "j"},
		{"K", "k"}, {"L", "l"}, {":", ";"}, {"\"", "'"}},
	{{"Z", "z"}, {"X", "x"}, {"C", "c"}, {"V", "v"}, {"B", "b"}, {"N", "n"}, {"M", "m"},
		{"<", ","}, {">", "."}, {"?", "/"}},
}

// Count returns the presses of both characters on k.
func (k Key) Count(d *DailyCounters) int64 {
	return charCount(d, k.Shifted) + charCount(d, k.Unshifted)
}

func charCount(d *DailyCounters, s string) int64 {
	if len(s) != 1 {
		return 0
	}
	return d.Keys[s[0]]
}

// ComputeKeyboardData counts every key of KeyboardRows and records the busiest one.
func ComputeKeyboardData(d *DailyCounters) KeyboardData {
	data := KeyboardData{Rows: make([][]KeyCount, len(KeyboardRows))}
	for i, row := range KeyboardRows {
		counts := make([]KeyCount, len(row))
		for j, k := range row {
			c := k.Count(d)
			counts[j] = KeyCount{Key: k, Count: c}
			if c > data.Max {
				data.Max = c
			}
		}
		data.Rows[i] = counts
	}
	return data
}

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultDuration is the narration length a new draft starts with.
const DefaultDuration = "00:16"

// FormatDuration turns free-form input into MM:SS. Non-digits are dropped,
// only the last four digits are kept, and short input fills the seconds
// first ("5" -> "00:05", "130" -> "01:30"). Empty input yields "00:00".
func FormatDuration(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	val := digits.String()
	if val == "" {
		return "00:00"
	}
	if len(val) > 4 {
		val = val[len(val)-4:]
	}
	if len(val) <= 2 {
		return "00:" + leftPad(val, 2)
	}
	return leftPad(val[:len(val)-2], 2) + ":" + val[len(val)-2:]
}

// TotalSeconds parses MM:SS. Parts that do not parse count as zero.
func TotalSeconds(display string) int {
	parts := strings.Split(display, ":")
	m := atoiOrZero(parts[0])
	s := 0
	if len(parts) > 1 {
		s = atoiOrZero(parts[1])
	}
	return m*60 + s
}

// TargetSceneCount is ceil(seconds/8), never less than one.
func TargetSceneCount(totalSeconds int) int {
	n := (totalSeconds + SceneDurationSeconds - 1) / SceneDurationSeconds
	if n < 1 {
		return 1
	}
	return n
}

// DisplayDuration renders seconds as MM:SS.
func DisplayDuration(totalSeconds int) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

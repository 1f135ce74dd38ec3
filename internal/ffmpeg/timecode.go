package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"clipsafe/internal/services"
)

// ParseTimecode converts "SS[.f]", "MM:SS[.f]" or "HH:MM:SS[.f]" into
// seconds. Minutes and seconds fields after the first must be below 60.
func ParseTimecode(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, invalidTimecode(value, "empty")
	}
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, invalidTimecode(value, "too many fields")
	}

	seconds, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, invalidTimecode(value, "bad seconds field")
	}
	if len(parts) > 1 && seconds >= 60 {
		return 0, invalidTimecode(value, "seconds must be below 60")
	}

	total := seconds
	multiplier := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		field, err := strconv.Atoi(parts[i])
		if err != nil || field < 0 {
			return 0, invalidTimecode(value, "bad field")
		}
		if i > 0 && field >= 60 {
			return 0, invalidTimecode(value, "minutes must be below 60")
		}
		total += float64(field) * multiplier
		multiplier *= 60
	}
	return total, nil
}

// FormatTimecode renders seconds as HH:MM:SS.mmm.
func FormatTimecode(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3_600_000
	m := (millis / 60_000) % 60
	s := (millis / 1000) % 60
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func invalidTimecode(value, reason string) error {
	return services.Wrap(services.ErrInvalidParameters, "ffmpeg", "parse timecode",
		fmt.Sprintf("invalid timecode %q: %s", value, reason), nil)
}

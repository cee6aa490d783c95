package types

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var colorPattern = regexp.MustCompile(`(?i)^#?(?:([\da-f])([\da-f])([\da-f])|([\da-f]{6}))$`)

// ErrInvalidColor is returned for input that is not a hex color code
var ErrInvalidColor = errors.New("invalid hex color")

// RGB holds the red, green and blue channels of a color, each 0-255
type RGB struct {
	Red   int
	Green int
	Blue  int
}

// ParseColor accepts #abc, abc, #aabbcc or aabbcc in any case and returns the
// normalized #rrggbb form together with its numeric value.
func ParseColor(input string) (string, int, error) {
	m := colorPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return "", 0, fmt.Errorf("%q: %w", input, ErrInvalidColor)
	}

	hex := m[4]
	if hex == "" {
		hex = m[1] + m[1] + m[2] + m[2] + m[3] + m[3]
	}
	hex = strings.ToLower(hex)

	value, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%q: %w", input, ErrInvalidColor)
	}
	return "#" + hex, int(value), nil
}

// IsColor reports whether input parses as a hex color
func IsColor(input string) bool {
	_, _, err := ParseColor(input)
	return err == nil
}

// FormatColor renders a numeric color as #rrggbb
func FormatColor(color int) string {
	return fmt.Sprintf("#%06x", color&0xffffff)
}

// SplitRGB splits a numeric color into channels
func SplitRGB(color int) RGB {
	return RGB{
		Red:   (color >> 16) & 0xff,
		Green: (color >> 8) & 0xff,
		Blue:  color & 0xff,
	}
}

// DistanceSquared is the squared euclidean distance between two colors in RGB space
func DistanceSquared(a, b RGB) int {
	dr := a.Red - b.Red
	dg := a.Green - b.Green
	db := a.Blue - b.Blue
	return dr*dr + dg*dg + db*db
}

// NearestColorRoles returns up to limit color roles ordered by how close their
// color is to color.
func NearestColorRoles(roles []Role, color int, limit int) []Role {
	target := SplitRGB(color)

	candidates := ColorRoles(roles)
	sort.SliceStable(candidates, func(i, j int) bool {
		return DistanceSquared(SplitRGB(candidates[i].Color), target) <
			DistanceSquared(SplitRGB(candidates[j].Color), target)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

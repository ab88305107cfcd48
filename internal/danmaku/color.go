package danmaku

import (
	"fmt"
	"strings"
)

// Palette maps the named colors offered by the viewer to RGB.
var Palette = map[string]string{
	"white":  "#ffffff",
	"red":    "#fe0302",
	"orange": "#ff7204",
	"yellow": "#ffff00",
	"green":  "#00cd00",
	"cyan":   "#00ffff",
	"blue":   "#4266be",
	"purple": "#cc0273",
	"pink":   "#ff99cc",
	"gray":   "#a0a0a0",
}

// NormalizeColor accepts a palette name, #rgb or #rrggbb and returns
// lowercase #rrggbb. Empty input yields DefaultColor.
func NormalizeColor(color string) (string, error) {
	color = strings.ToLower(strings.TrimSpace(color))
	if color == "" {
		return DefaultColor, nil
	}
	if rgb, ok := Palette[color]; ok {
		return rgb, nil
	}
	if !strings.HasPrefix(color, "#") {
		return "", fmt.Errorf("unknown color %q", color)
	}

	hex := color[1:]
	for _, r := range hex {
		if !isHexDigit(r) {
			return "", fmt.Errorf("invalid color %q", color)
		}
	}

	switch len(hex) {
	case 3:
		return "#" + string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}), nil
	case 6:
		return color, nil
	default:
		return "", fmt.Errorf("invalid color %q", color)
	}
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

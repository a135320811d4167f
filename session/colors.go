package session

const (
	ColorGreen  = "#00FF00"
	ColorBlue   = "#0000FF"
	ColorRed    = "#FF0000"
	ColorYellow = "#FFFF00"
)

var palette = []string{
	ColorGreen, ColorBlue, ColorRed, ColorYellow,
	"#e67e22", "#9b59b6", "#1abc9c", "#e91e63",
}

// PaletteColor returns the color for the i-th snake to join.
func PaletteColor(i int) string {
	if i < 0 {
		i = 0
	}
	return palette[i%len(palette)]
}

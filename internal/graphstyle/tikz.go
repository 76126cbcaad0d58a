package graphstyle

import (
	"fmt"
	"strconv"
	"strings"
)

var tikzLineStyles = map[int]string{
	0: "solid",
	1: "dashed",
	2: "dashdotted",
	3: "dotted",
}

// tikzColor turns #RRGGBB into an inline xcolor color expression.
func tikzColor(color string) string {
	c, err := FormatColor(color)
	if err != nil {
		return "black"
	}
	r, _ := strconv.ParseUint(c[1:3], 16, 8)
	g, _ := strconv.ParseUint(c[3:5], 16, 8)
	b, _ := strconv.ParseUint(c[5:7], 16, 8)
	return fmt.Sprintf("{rgb,255:red,%d;green,%d;blue,%d}", r, g, b)
}

// TikzOptions maps the line attributes of a style to \addplot options.
func TikzOptions(s Style) string {
	options := []string{"color=" + tikzColor(s.LineColor)}
	if ls, ok := tikzLineStyles[s.LineStyle]; ok {
		options = append(options, ls)
	}
	if s.LineWidth > 0 {
		options = append(options, fmt.Sprintf("line width=%dpt", s.LineWidth))
	}
	options = append(options, "mark=none")
	return strings.Join(options, ",")
}

// TikzAxisOptions maps the background and grid of a style to axis options.
func TikzAxisOptions(s Style) string {
	return strings.Join([]string{
		"axis background/.style={fill=" + tikzColor(s.BgColor) + "}",
		"ymajorgrids",
		"xmajorgrids",
		"grid style={draw=" + tikzColor(s.GridColor) + ",dashed}",
	}, ",")
}

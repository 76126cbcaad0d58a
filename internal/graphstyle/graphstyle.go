// Package graphstyle models the appearance of metric graphs: a set of
// predefined modes plus free customization of colors, line style and width.
package graphstyle

import (
	"fmt"
	"strconv"
	"strings"

	"pmc-monitor/internal/config"
)

const (
	MinLineWidth = 1
	MaxLineWidth = 10

	// NoMode is the mode number of a customized style.
	NoMode = -1
)

// LineStyles maps line style numbers to their names.
var LineStyles = []string{"solid", "dashed", "dashdot", "dotted"}

type Style struct {
	BgColor   string
	GridColor string
	LineColor string
	LineStyle int
	LineWidth int
}

type Mode struct {
	Name  string
	Style Style
}

// Modes lists the predefined styles. The index is the mode number.
var Modes = []Mode{
	{"Default", Style{"#FFFFFF", "#666666", "#0000FF", 0, 1}},
	{"Contrast", Style{"#000000", "#FFFFFF", "#FFFFFF", 0, 1}},
	{"Simple", Style{"#FFFFFF", "#000000", "#000000", 0, 1}},
	{"Hacker", Style{"#000000", "#00FF00", "#00FF00", 0, 1}},
	{"Aqua", Style{"#0E2581", "#FFFFFF", "#00EDF6", 0, 1}},
	{"Inferno", Style{"#6B0000", "#FFFFFF", "#FF0000", 0, 1}},
	{"Tropical", Style{"#00B829", "#006207", "#FFFF00", 1, 2}},
	{"Desert", Style{"#A94000", "#FFC800", "#FFB612", 0, 1}},
	{"Night", Style{"#000000", "#FFFF00", "#FFFF00", 3, 2}},
}

func DefaultStyle() Style {
	return Modes[0].Style
}

// LineStyleName returns the name of a line style number.
func LineStyleName(n int) (string, error) {
	if n < 0 || n >= len(LineStyles) {
		return "", fmt.Errorf("line style %d out of range [0, %d]", n, len(LineStyles)-1)
	}
	return LineStyles[n], nil
}

// LineStyleNumber is the inverse of LineStyleName.
func LineStyleNumber(name string) (int, error) {
	for i, s := range LineStyles {
		if strings.EqualFold(s, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown line style %q", name)
}

// FormatColor normalizes a color to HTML syntax #RRGGBB. It accepts
// #RRGGBB and #RGB, with or without the leading '#', in any case.
func FormatColor(color string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return "", fmt.Errorf("invalid color %q", color)
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "", fmt.Errorf("invalid color %q", color)
	}
	return "#" + strings.ToUpper(hex), nil
}

func (s Style) Validate() error {
	for _, c := range []string{s.BgColor, s.GridColor, s.LineColor} {
		if _, err := FormatColor(c); err != nil {
			return err
		}
	}
	if _, err := LineStyleName(s.LineStyle); err != nil {
		return err
	}
	if s.LineWidth < MinLineWidth || s.LineWidth > MaxLineWidth {
		return fmt.Errorf("line width %d out of range [%d, %d]", s.LineWidth, MinLineWidth, MaxLineWidth)
	}
	return nil
}

// Editor is the editing state of a graph style. A mode is selected until any
// individual attribute is customized.
type Editor struct {
	style Style
	mode  int
}

func NewEditor() *Editor {
	return &Editor{style: DefaultStyle(), mode: 0}
}

// EditorFromConfig restores an editor from its persisted form.
func EditorFromConfig(cfg *config.GraphStyleConfig) (*Editor, error) {
	if cfg == nil {
		return NewEditor(), nil
	}
	style := Style{
		BgColor:   cfg.BgColor,
		GridColor: cfg.GridColor,
		LineColor: cfg.LineColor,
		LineStyle: cfg.LineStyleNumber,
		LineWidth: cfg.LineWidth,
	}
	if cfg.LineStyle != "" {
		n, err := LineStyleNumber(cfg.LineStyle)
		if err != nil {
			return nil, err
		}
		style.LineStyle = n
	}
	if err := style.Validate(); err != nil {
		return nil, err
	}
	style.BgColor, _ = FormatColor(style.BgColor)
	style.GridColor, _ = FormatColor(style.GridColor)
	style.LineColor, _ = FormatColor(style.LineColor)

	if cfg.ModeNumber < NoMode || cfg.ModeNumber >= len(Modes) {
		return nil, fmt.Errorf("mode %d out of range [%d, %d]", cfg.ModeNumber, NoMode, len(Modes)-1)
	}
	return &Editor{style: style, mode: cfg.ModeNumber}, nil
}

func (e *Editor) SelectMode(n int) error {
	if n < 0 || n >= len(Modes) {
		return fmt.Errorf("mode %d out of range [0, %d]", n, len(Modes)-1)
	}
	e.style = Modes[n].Style
	e.mode = n
	return nil
}

// SetCustomized replaces the whole style and clears the mode selection.
func (e *Editor) SetCustomized(style Style) error {
	if err := style.Validate(); err != nil {
		return err
	}
	style.BgColor, _ = FormatColor(style.BgColor)
	style.GridColor, _ = FormatColor(style.GridColor)
	style.LineColor, _ = FormatColor(style.LineColor)
	e.style = style
	e.mode = NoMode
	return nil
}

func (e *Editor) SetBgColor(color string) error {
	c, err := FormatColor(color)
	if err != nil {
		return err
	}
	e.style.BgColor = c
	e.mode = NoMode
	return nil
}

func (e *Editor) SetGridColor(color string) error {
	c, err := FormatColor(color)
	if err != nil {
		return err
	}
	e.style.GridColor = c
	e.mode = NoMode
	return nil
}

func (e *Editor) SetLineColor(color string) error {
	c, err := FormatColor(color)
	if err != nil {
		return err
	}
	e.style.LineColor = c
	e.mode = NoMode
	return nil
}

func (e *Editor) SetLineStyle(n int) error {
	if _, err := LineStyleName(n); err != nil {
		return err
	}
	e.style.LineStyle = n
	e.mode = NoMode
	return nil
}

func (e *Editor) SetLineWidth(width int) error {
	if width < MinLineWidth || width > MaxLineWidth {
		return fmt.Errorf("line width %d out of range [%d, %d]", width, MinLineWidth, MaxLineWidth)
	}
	e.style.LineWidth = width
	e.mode = NoMode
	return nil
}

func (e *Editor) Style() Style {
	return e.style
}

func (e *Editor) ModeNumber() int {
	return e.mode
}

func (e *Editor) ModeName() string {
	switch {
	case e.mode == NoMode:
		return "Customized"
	case e.mode == 0:
		return Modes[0].Name
	default:
		return Modes[e.mode].Name + " mode"
	}
}

// Config returns the persisted form of the current style.
func (e *Editor) Config() *config.GraphStyleConfig {
	name, _ := LineStyleName(e.style.LineStyle)
	return &config.GraphStyleConfig{
		BgColor:         e.style.BgColor,
		GridColor:       e.style.GridColor,
		LineColor:       e.style.LineColor,
		LineStyle:       name,
		LineWidth:       e.style.LineWidth,
		LineStyleNumber: e.style.LineStyle,
		ModeNumber:      e.mode,
	}
}

package graphstyle

import (
	"strings"
	"testing"

	"pmc-monitor/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModes(t *testing.T) {
	names := make([]string, 0, len(Modes))
	for _, m := range Modes {
		names = append(names, m.Name)
		assert.NoError(t, m.Style.Validate(), m.Name)
	}
	assert.Equal(t, []string{
		"Default", "Contrast", "Simple", "Hacker", "Aqua",
		"Inferno", "Tropical", "Desert", "Night",
	}, names)

	night := Modes[8].Style
	assert.Equal(t, Style{"#000000", "#FFFF00", "#FFFF00", 3, 2}, night)
}

func TestFormatColor(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "#0000ff", want: "#0000FF"},
		{in: "00EDF6", want: "#00EDF6"},
		{in: "#fa0", want: "#FFAA00"},
		{in: " #123456 ", want: "#123456"},
		{in: "#12345", wantErr: true},
		{in: "#GGGGGG", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := FormatColor(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLineStyleNames(t *testing.T) {
	for i, want := range []string{"solid", "dashed", "dashdot", "dotted"} {
		got, err := LineStyleName(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		n, err := LineStyleNumber(want)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	_, err := LineStyleName(4)
	assert.Error(t, err)
	_, err = LineStyleNumber("wavy")
	assert.Error(t, err)
}

func TestEditor_ModeName(t *testing.T) {
	e := NewEditor()
	assert.Equal(t, "Default", e.ModeName())
	assert.Equal(t, 0, e.ModeNumber())

	require.NoError(t, e.SelectMode(5))
	assert.Equal(t, "Inferno mode", e.ModeName())
	assert.Equal(t, Modes[5].Style, e.Style())

	require.NoError(t, e.SetLineWidth(4))
	assert.Equal(t, "Customized", e.ModeName())
	assert.Equal(t, NoMode, e.ModeNumber())
	assert.Equal(t, 4, e.Style().LineWidth)
	assert.Equal(t, "#6B0000", e.Style().BgColor)

	assert.Error(t, e.SelectMode(9))
	assert.Error(t, e.SelectMode(-1))
}

func TestEditor_EachCustomizationClearsSelection(t *testing.T) {
	setters := map[string]func(*Editor) error{
		"bg":    func(e *Editor) error { return e.SetBgColor("#101010") },
		"grid":  func(e *Editor) error { return e.SetGridColor("#202020") },
		"line":  func(e *Editor) error { return e.SetLineColor("#303030") },
		"style": func(e *Editor) error { return e.SetLineStyle(2) },
		"width": func(e *Editor) error { return e.SetLineWidth(10) },
		"all": func(e *Editor) error {
			return e.SetCustomized(Style{"#fff", "#000", "#f00", 1, 3})
		},
	}
	for name, set := range setters {
		e := NewEditor()
		require.NoError(t, e.SelectMode(3))
		require.NoError(t, set(e), name)
		assert.Equal(t, NoMode, e.ModeNumber(), name)
	}
}

func TestEditor_RejectsInvalidValuesWithoutChange(t *testing.T) {
	e := NewEditor()
	require.NoError(t, e.SelectMode(2))

	assert.Error(t, e.SetLineWidth(0))
	assert.Error(t, e.SetLineWidth(11))
	assert.Error(t, e.SetLineStyle(7))
	assert.Error(t, e.SetBgColor("blue"))
	assert.Error(t, e.SetCustomized(Style{"#fff", "#000", "#f00", 0, 0}))

	assert.Equal(t, 2, e.ModeNumber())
	assert.Equal(t, Modes[2].Style, e.Style())
}

func TestEditor_ConfigRoundTrip(t *testing.T) {
	e := NewEditor()
	require.NoError(t, e.SelectMode(6))

	cfg := e.Config()
	assert.Equal(t, &config.GraphStyleConfig{
		BgColor:         "#00B829",
		GridColor:       "#006207",
		LineColor:       "#FFFF00",
		LineStyle:       "dashed",
		LineWidth:       2,
		LineStyleNumber: 1,
		ModeNumber:      6,
	}, cfg)

	restored, err := EditorFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Tropical mode", restored.ModeName())
	assert.Equal(t, e.Style(), restored.Style())
}

func TestEditorFromConfig(t *testing.T) {
	e, err := EditorFromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "Default", e.ModeName())

	e, err = EditorFromConfig(&config.GraphStyleConfig{
		BgColor: "fff", GridColor: "#000", LineColor: "#abcdef",
		LineStyleNumber: 3, LineWidth: 2, ModeNumber: NoMode,
	})
	require.NoError(t, err)
	assert.Equal(t, "Customized", e.ModeName())
	assert.Equal(t, "#FFFFFF", e.Style().BgColor)
	assert.Equal(t, "#ABCDEF", e.Style().LineColor)

	_, err = EditorFromConfig(&config.GraphStyleConfig{
		BgColor: "#fff", GridColor: "#000", LineColor: "#000",
		LineWidth: 1, ModeNumber: 12,
	})
	assert.Error(t, err)

	_, err = EditorFromConfig(&config.GraphStyleConfig{
		BgColor: "#fff", GridColor: "#000", LineColor: "#000",
		LineStyle: "zigzag", LineWidth: 1,
	})
	assert.Error(t, err)
}

func TestTikzOptions(t *testing.T) {
	opts := TikzOptions(Modes[0].Style)
	assert.Equal(t, "color={rgb,255:red,0;green,0;blue,255},solid,line width=1pt,mark=none", opts)

	night := TikzOptions(Modes[8].Style)
	assert.Contains(t, night, "dotted")
	assert.Contains(t, night, "line width=2pt")

	axis := TikzAxisOptions(Modes[1].Style)
	assert.True(t, strings.HasPrefix(axis, "axis background/.style={fill={rgb,255:red,0;green,0;blue,0}}"))
	assert.Contains(t, axis, "grid style={draw={rgb,255:red,255;green,255;blue,255},dashed}")
}

package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func withOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestInit_Off(t *testing.T) {
	buf := withOutput(t, LevelOff)
	Info("hidden")
	Error(errors.New("hidden"))
	if buf.Len() != 0 {
		t.Errorf("output at level 0: %q", buf.String())
	}
	Summary("hidden")
}

func TestLevels(t *testing.T) {
	cases := []struct {
		level   int
		visible []string
		hidden  []string
	}{
		{LevelInfo, []string{"[INFO] Measured forward 30.0: left=23 right=23 steps"}, []string{"[LIVE]", "[VERBOSE]", "[TRACE]"}},
		{LevelLive, []string{"Steering forward at speed 40", "Speed set to 60"}, []string{"[VERBOSE]", "[TRACE]"}},
		{LevelVerbose, []string{"[VERBOSE] conversion"}, []string{"[TRACE]"}},
		{LevelTrace, []string{"Wheel left: step 3/8", "[GPIO] Write pin=7 value=1"}, nil},
	}
	for _, tc := range cases {
		buf := withOutput(t, tc.level)
		Measured("forward", 30, 23, 23)
		Motion("forward", 40)
		Speed(60)
		Verbose("conversion")
		Steps("left", 3, 8)
		GPIO("Write", 7, 1)

		out := buf.String()
		for _, s := range tc.visible {
			if !strings.Contains(out, s) {
				t.Errorf("level %d: output missing %q:\n%s", tc.level, s, out)
			}
		}
		for _, s := range tc.hidden {
			if strings.Contains(out, s) {
				t.Errorf("level %d: output contains %q:\n%s", tc.level, s, out)
			}
		}
	}
}

func TestPrefixAndLevel(t *testing.T) {
	buf := withOutput(t, LevelLive)
	Info("ready")
	if !strings.Contains(buf.String(), "[Malina] ") {
		t.Errorf("missing prefix: %q", buf.String())
	}
	if Level() != LevelLive || !IsEnabled(LevelInfo) || IsEnabled(LevelVerbose) {
		t.Errorf("Level() = %d, IsEnabled inconsistent", Level())
	}
}

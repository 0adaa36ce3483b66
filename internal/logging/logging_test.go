package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
		" DEBUG ": zerolog.DebugLevel,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestInitSetsComponent(t *testing.T) {
	logger := Init(Config{Format: "json", Level: "debug", Component: "jarvis"})
	if logger.GetLevel() != zerolog.TraceLevel && zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("expected global level debug, got %v", zerolog.GlobalLevel())
	}
}

func TestSelectWriterJSONWithoutTerminal(t *testing.T) {
	orig := isTerminalFn
	defer func() { isTerminalFn = orig }()
	isTerminalFn = func(fd int) bool { return false }

	if w := selectWriter("auto"); w == nil {
		t.Fatal("expected writer")
	}
	if _, ok := selectWriter("console").(zerolog.ConsoleWriter); !ok {
		t.Error("expected console writer for explicit console format")
	}
}

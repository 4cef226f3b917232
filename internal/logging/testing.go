package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger captures entries at every level, Trace included. Components
// that take a *zap.Logger get Underlying().
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// matching returns the captured entries at level whose message contains
// snippet.
func (t *TestLogger) matching(level zapcore.Level, snippet string) []observer.LoggedEntry {
	return t.logs.Filter(func(e observer.LoggedEntry) bool {
		return e.Level == level && strings.Contains(e.Message, snippet)
	}).All()
}

func (t *TestLogger) CountLogged(level zapcore.Level, snippet string) int {
	return len(t.matching(level, snippet))
}

func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if len(t.matching(level, snippet)) == 0 {
		tb.Errorf("no %v entry containing %q; captured: %v", level, snippet, t.messages())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if n := len(t.matching(level, snippet)); n > 0 {
		tb.Errorf("%d unexpected %v entries containing %q", n, level, snippet)
	}
}

// AssertField checks that some entry whose message contains snippet carries
// key=want.
func (t *TestLogger) AssertField(tb testing.TB, snippet, key string, want any) {
	tb.Helper()
	for _, e := range t.logs.FilterMessageSnippet(snippet).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("no entry containing %q has %s=%v", snippet, key, want)
}

func (t *TestLogger) messages() []string {
	var out []string
	for _, e := range t.logs.All() {
		out = append(out, e.Level.String()+": "+e.Message)
	}
	return out
}

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModuleGating(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))
	defer SetDefault(prev)

	DisableModule(JitModule)
	Debug(JitModule, "hidden", "k", 1)
	require.Zero(t, buf.Len())

	EnableModules("jit, modcomp")
	defer DisableModule(JitModule)
	defer DisableModule(ModcompModule)
	Debug(JitModule, "shown", "k", 2)
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "module=jit")
	require.Contains(t, buf.String(), "DEBUG")

	buf.Reset()
	Info(CacheModule, "always")
	require.Contains(t, buf.String(), "always")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warning")
	require.NoError(t, err)
	require.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestSetupFormats(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "info", FormatJSON))
	Info(AnnounceModule, "json line", "addr", "0x1000")
	require.Contains(t, buf.String(), `"module":"announce"`)
	require.Contains(t, buf.String(), `"msg":"json line"`)

	buf.Reset()
	require.NoError(t, Setup(&buf, "warn", ""))
	Info(AnnounceModule, "dropped")
	Warn(AnnounceModule, "kept")
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "WARN")

	require.Error(t, Setup(&buf, "info", "xml"))
	require.Error(t, Setup(&buf, "loud", FormatText))
}

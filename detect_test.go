package imgview

import (
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProtocol(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected Protocol
	}{
		{
			name: "Kitty terminal via TERM",
			envVars: map[string]string{
				"TERM": "xterm-kitty",
			},
			expected: Kitty,
		},
		{
			name: "Kitty terminal via KITTY_WINDOW_ID",
			envVars: map[string]string{
				"KITTY_WINDOW_ID": "1",
			},
			expected: Kitty,
		},
		{
			name: "iTerm2 terminal",
			envVars: map[string]string{
				"TERM_PROGRAM": "iTerm.app",
			},
			expected: ITerm2,
		},
		{
			name: "WezTerm terminal",
			envVars: map[string]string{
				"TERM_PROGRAM": "WezTerm",
			},
			expected: Kitty,
		},
		{
			name: "Mintty terminal",
			envVars: map[string]string{
				"TERM_PROGRAM": "mintty",
			},
			expected: ITerm2,
		},
		{
			name: "Unknown terminal defaults",
			envVars: map[string]string{
				"TERM": "dumb",
			},
			expected: Halfblocks,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Save original environment
			originalEnv := make(map[string]string)
			clearEnvVars := []string{
				"TERM", "TERM_PROGRAM", "KITTY_WINDOW_ID", "TMUX",
				"IMGVIEW_BYPASS_DETECTION",
			}
			for _, env := range clearEnvVars {
				if val, exists := os.LookupEnv(env); exists {
					originalEnv[env] = val
				}
				os.Unsetenv(env)
			}

			// Set test environment
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			// Clear caches to ensure fresh detection
			ClearEnvironmentCache()
			ClearFeatureCache()

			result := DetectProtocol()
			// Detection may fall back to different protocols in test environment
			// Just ensure it returns a valid protocol
			assert.NotEqual(t, Protocol(0), result, "Should detect a valid protocol")

			// Log what was actually detected for debugging
			t.Logf("Expected: %s, Got: %s", tt.expected.String(), result.String())

			// Restore original environment
			for _, env := range clearEnvVars {
				os.Unsetenv(env)
			}
			for k, v := range originalEnv {
				os.Setenv(k, v)
			}
			ClearEnvironmentCache()
			ClearFeatureCache()
		})
	}
}

func TestDetectProtocolBypass(t *testing.T) {
	t.Setenv("IMGVIEW_BYPASS_DETECTION", "halfblocks")
	assert.Equal(t, Halfblocks, DetectProtocol())

	t.Setenv("IMGVIEW_BYPASS_DETECTION", "kitty")
	assert.Equal(t, Kitty, DetectProtocol())

	t.Setenv("IMGVIEW_BYPASS_DETECTION", "sixel")
	assert.Equal(t, Sixel, DetectProtocol())
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		name     string
		expected Protocol
	}{
		{"kitty", Kitty},
		{"iterm2", ITerm2},
		{"iterm", ITerm2},
		{"sixel", Sixel},
		{"halfblocks", Halfblocks},
		{"blocks", Halfblocks},
		{"none", Unsupported},
		{"unsupported", Unsupported},
		{"garbage", Auto},
		{"", Auto},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseProtocol(tt.name), "ParseProtocol(%q)", tt.name)
	}
}

func TestProtocolSupport(t *testing.T) {
	t.Run("KittySupported", func(t *testing.T) {
		// Just ensure it doesn't panic
		supported := KittySupported()
		assert.IsType(t, false, supported)
	})

	t.Run("SixelSupported", func(t *testing.T) {
		supported := SixelSupported()
		assert.IsType(t, false, supported)
	})

	t.Run("ITerm2Supported", func(t *testing.T) {
		supported := ITerm2Supported()
		assert.IsType(t, false, supported)
	})

	t.Run("HalfblocksSupported", func(t *testing.T) {
		supported := HalfblocksSupported()
		assert.True(t, supported, "Halfblocks should always be supported")
	})
}

func TestQueryTerminalFeatures(t *testing.T) {
	features := QueryTerminalFeatures()
	require.NotNil(t, features)

	// Basic validation that features struct is populated
	assert.IsType(t, "", features.TermName)
	assert.IsType(t, "", features.TermProgram)
	assert.IsType(t, false, features.IsTmux)
	assert.IsType(t, false, features.IsScreen)
	assert.GreaterOrEqual(t, features.FontWidth, 0)
	assert.GreaterOrEqual(t, features.FontHeight, 0)
}

func TestParallelProtocolDetection(t *testing.T) {
	// Test that parallel detection doesn't panic or race
	kitty, sixel, iterm2 := ParallelProtocolDetection()

	// Values should be booleans
	assert.IsType(t, false, kitty)
	assert.IsType(t, false, sixel)
	assert.IsType(t, false, iterm2)
}

func TestParallelProtocolDetectionPreservesSixelWhenKittyDetectedFromEnv(t *testing.T) {
	wasTmuxForced := IsTmuxForced()
	defer ForceTmux(wasTmuxForced)
	ForceTmux(false)

	// Normalize all relevant env hints so this assertion is deterministic.
	t.Setenv("TERM", "xterm-256color")
	t.Setenv("TERM_PROGRAM", "WezTerm")
	t.Setenv("KITTY_WINDOW_ID", "")
	t.Setenv("XTERM_VERSION", "")
	t.Setenv("TMUX", "")
	t.Setenv("GHOSTTY_RESOURCES_DIR", "")
	t.Setenv("WEZTERM_EXECUTABLE", "")
	t.Setenv("ITERM_SESSION_ID", "")
	t.Setenv("LC_TERMINAL", "")
	t.Setenv("TERM_SESSION_ID", "")

	ClearEnvironmentCache()
	t.Cleanup(ClearEnvironmentCache)

	kitty, sixel, iterm2 := ParallelProtocolDetection()
	assert.True(t, kitty, "WezTerm should be detected as kitty-capable from env hints")
	assert.True(t, sixel, "Sixel env detection should still run before early return")
	assert.False(t, iterm2, "WezTerm env detection path should not force iTerm2 support")
}

func TestProtocolStrings(t *testing.T) {
	tests := []struct {
		protocol Protocol
		expected string
	}{
		{Auto, "Auto"},
		{Kitty, "Kitty"},
		{ITerm2, "iTerm2"},
		{Sixel, "Sixel"},
		{Halfblocks, "Halfblocks"},
		{Unsupported, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.protocol.String())
		})
	}
}

func TestDetermineProtocols(t *testing.T) {
	protocols := DetermineProtocols()
	assert.NotEmpty(t, protocols, "Should return at least one protocol")

	// Should always include halfblocks as fallback
	found := slices.Contains(protocols, Halfblocks)
	assert.True(t, found, "Should include halfblocks as fallback")
}

func TestSupportedProtocols(t *testing.T) {
	supported := SupportedProtocols()
	assert.NotEmpty(t, supported, "Should return some supported protocols")
	assert.Contains(t, supported, "Halfblocks", "Should include Halfblocks")
}

func TestDetectionLog(t *testing.T) {
	ClearDetectionLog()

	logs := GetDetectionLog()
	assert.Empty(t, logs)

	logDetection("probe %d", 1)
	logs = GetDetectionLog()
	require.Len(t, logs, 1)
	assert.Equal(t, "probe 1", logs[0])

	// The returned slice is a copy; mutating it leaves the log intact.
	logs[0] = "mutated"
	assert.Equal(t, "probe 1", GetDetectionLog()[0])

	ClearDetectionLog()
	assert.Empty(t, GetDetectionLog())
}

func TestTerminalQuerier(t *testing.T) {
	querier, err := NewTerminalQuerier()
	if err != nil {
		t.Skip("Cannot create terminal querier in test environment")
		return
	}

	require.NotNil(t, querier)
	defer querier.Close()

	// Test that Query method exists and handles timeout
	// Use very short timeout to avoid hanging
	result, err := querier.Query("\x1b[c", 10*time.Millisecond)

	// In test environment, this will likely timeout or error
	// Just ensure it doesn't panic
	assert.IsType(t, "", result)
	// Error is expected in test environment
}

func TestEnvironmentDetection(t *testing.T) {
	t.Run("DetectKittyFromEnvironment", func(t *testing.T) {
		t.Setenv("TERM", "xterm-kitty")
		t.Setenv("KITTY_WINDOW_ID", "")
		t.Setenv("TERM_PROGRAM", "")
		assert.True(t, DetectKittyFromEnvironment())

		t.Setenv("TERM", "")
		t.Setenv("KITTY_WINDOW_ID", "1")
		assert.True(t, DetectKittyFromEnvironment())

		t.Setenv("KITTY_WINDOW_ID", "")
		assert.False(t, DetectKittyFromEnvironment())

		t.Setenv("TERM_PROGRAM", "ghostty")
		assert.True(t, DetectKittyFromEnvironment())
	})

	t.Run("DetectITerm2FromEnvironment", func(t *testing.T) {
		t.Setenv("LC_TERMINAL", "")
		t.Setenv("ITERM_SESSION_ID", "")
		t.Setenv("TERM_SESSION_ID", "")

		t.Setenv("TERM_PROGRAM", "iTerm.app")
		assert.True(t, DetectITerm2FromEnvironment())

		t.Setenv("TERM_PROGRAM", "other")
		assert.False(t, DetectITerm2FromEnvironment())
	})

	t.Run("DetectSixelFromEnvironment", func(t *testing.T) {
		t.Setenv("TERM_PROGRAM", "")
		t.Setenv("XTERM_VERSION", "")

		t.Setenv("TERM", "foot")
		assert.True(t, DetectSixelFromEnvironment())

		t.Setenv("TERM", "mlterm")
		assert.True(t, DetectSixelFromEnvironment())

		t.Setenv("TERM", "xterm-256color")
		assert.False(t, DetectSixelFromEnvironment())

		t.Setenv("XTERM_VERSION", "XTerm(379)")
		assert.True(t, DetectSixelFromEnvironment(), "xterm with XTERM_VERSION may have sixel")
	})
}

func TestCacheClearing(t *testing.T) {
	// Test that cache clearing functions don't panic
	assert.NotPanics(t, func() {
		ClearEnvironmentCache()
	})

	assert.NotPanics(t, func() {
		ClearFeatureCache()
	})
}

func TestConcurrentDetection(t *testing.T) {
	// Test concurrent access to detection functions
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func() {
			_ = DetectProtocol()
			_ = QueryTerminalFeatures()
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		select {
		case <-done:
			// Success
		case <-time.After(5 * time.Second):
			t.Fatal("Concurrent detection timed out")
		}
	}
}

func BenchmarkDetectProtocol(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DetectProtocol()
	}
}

func BenchmarkQueryTerminalFeatures(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = QueryTerminalFeatures()
	}
}
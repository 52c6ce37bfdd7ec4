package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.design/x/hotkey"
)

func TestParseHotkey(t *testing.T) {
	mods, key, err := parseHotkey("ctrl+shift+s")
	require.NoError(t, err)
	assert.Equal(t, []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, mods)
	assert.Equal(t, hotkey.KeyS, key)

	mods, key, err = parseHotkey("alt+space")
	require.NoError(t, err)
	assert.Len(t, mods, 1)
	assert.Equal(t, hotkey.KeySpace, key)

	// case and whitespace are forgiven
	_, key, err = parseHotkey("Ctrl + M")
	require.NoError(t, err)
	assert.Equal(t, hotkey.KeyM, key)
}

func TestParseHotkeyRejections(t *testing.T) {
	for _, s := range []string{"", "ctrl+shift", "ctrl+a+b", "ctrl+pineapple"} {
		t.Run(s, func(t *testing.T) {
			_, _, err := parseHotkey(s)
			assert.Error(t, err)
		})
	}
}

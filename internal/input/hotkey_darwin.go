//go:build darwin

package input

import "golang.design/x/hotkey"

// Platform aliases for the modifier names accepted by parseHotkey, so a
// source-toggle binding like "alt+s" works unchanged across platforms.

// modAlt maps "alt" to Option on macOS.
func modAlt() hotkey.Modifier {
	return hotkey.ModOption
}

// modSuper maps "cmd"/"super" to Command on macOS.
func modSuper() hotkey.Modifier {
	return hotkey.ModCmd
}

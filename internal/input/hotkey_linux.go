//go:build linux

package input

import "golang.design/x/hotkey"

// Platform aliases for the modifier names accepted by parseHotkey, so a
// source-toggle binding like "alt+s" works unchanged across platforms.

// modAlt maps "alt" to Mod1 on Linux.
func modAlt() hotkey.Modifier {
	return hotkey.Mod1
}

// modSuper maps "super"/"win" to Mod4 on Linux.
func modSuper() hotkey.Modifier {
	return hotkey.Mod4
}

// Package input defines the captured input values shared by capture, playback
// and persistence: pointer, button, key and scroll events plus their timing.
package input

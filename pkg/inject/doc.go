// Package inject synthesises operating system input from recorded events.
//
// Each platform contributes one backend: CGEventPost on macOS and a virtual
// uinput device on Linux. Backends mark their events so the capture side can
// recognise and drop them.
package inject

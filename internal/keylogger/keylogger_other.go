//go:build !darwin

package keylogger

// CheckAccessibilityPermissions always reports false off macOS.
func CheckAccessibilityPermissions() bool { return false }

// Start reports ErrUnsupported off macOS.
func Start() (*Feed, error) { return nil, ErrUnsupported }

// Stop is a no-op off macOS.
func Stop() {}

// Package profile owns the content of a browser profile's user.js
// bootstrap file: the embedded static prefs (§6) plus any operator
// overrides loaded from a hot-reloadable file.
package profile

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed user.js
var embeddedFS embed.FS

const marker = "// THESE LINES WERE AUTOMATICALLY ADDED BY PANTIN DURING COMPILATION"

// Bootstrap is the static content of user.js plus any runtime-appended
// override lines (ProfileBootstrap in §3).
type Bootstrap struct {
	base      string
	overrides []Override
}

// Load reads the embedded user.js and returns a Bootstrap with no
// overrides applied; call WithOverrides to attach a Manager's current set.
func Load() (*Bootstrap, error) {
	data, err := embeddedFS.ReadFile("user.js")
	if err != nil {
		return nil, fmt.Errorf("profile: read embedded user.js: %w", err)
	}
	return &Bootstrap{base: string(data)}, nil
}

// WithOverrides returns a copy of b with the given overrides appended
// after the marker comment.
func (b *Bootstrap) WithOverrides(overrides []Override) *Bootstrap {
	return &Bootstrap{base: b.base, overrides: overrides}
}

// Render produces the final user.js content: the embedded base (which
// already ends with the marker line) followed by one user_pref line per
// override.
func (b *Bootstrap) Render() string {
	out := b.base
	for _, o := range b.overrides {
		out += o.Line() + "\n"
	}
	return out
}

// WriteTo writes the rendered user.js into profileDir/user.js.
func (b *Bootstrap) WriteTo(profileDir string) error {
	path := filepath.Join(profileDir, "user.js")
	if err := os.WriteFile(path, []byte(b.Render()), 0o600); err != nil {
		return fmt.Errorf("profile: write %s: %w", path, err)
	}
	return nil
}

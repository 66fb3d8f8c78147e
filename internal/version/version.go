package version

// Set at build time via -ldflags "-X github.com/sydlexius/bodyscanmock/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

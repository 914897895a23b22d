package version

// Overridden via -ldflags "-X github.com/codebattle/arena/internal/version.Version=...".
var Version = "dev"

package version

// Version is overridden at build time with -ldflags "-X flightassure/pkg/version.Version=...".
var Version = "v0.3.0-dev"

package turnpike

// Version is the release of the module, overridden at build time via -ldflags.
var Version = "dev"

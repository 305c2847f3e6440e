package version

var (
	// Set through -ldflags "-X github.com/AvaProtocol/ap-userop/version.semver=..." at release
	semver   = "0.1.0"
	revision = "unknown"
)

// Get return the version. Note that we're injecting this at build time when we tag release
func Get() string {
	return semver
}

func Commit() string {
	return revision
}

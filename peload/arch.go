package peload

import "runtime"

// hostArch reports the current platform's architecture in the terms
// LoadImage validates an image's machine type against.
func hostArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchAMD64
	case "386":
		return Arch386
	default:
		return ArchUnknown
	}
}

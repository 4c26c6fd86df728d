package platform

import (
	"fmt"
	"os/exec"
)

// RequiredBinaries lists external system binaries the app needs to function
var RequiredBinaries = []string{
	"ffmpeg",
}

// ValidateDependencies checks every required binary. ffmpegPath overrides
// the PATH lookup for ffmpeg when the config points somewhere specific.
func ValidateDependencies(ffmpegPath string) error {
	for _, bin := range RequiredBinaries {
		name := bin
		if bin == "ffmpeg" && ffmpegPath != "" {
			name = ffmpegPath
		}
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required dependency: '%s' not found in PATH", name)
		}
	}
	return nil
}

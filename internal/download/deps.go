package download

import (
	"context"
	"os/exec"
	"time"
)

// DependencyStatus reports whether the external tools the downloader needs
// are installed and runnable.
type DependencyStatus struct {
	Spotdl bool `json:"spotdl"`
	FFmpeg bool `json:"ffmpeg"`
}

// Ready reports whether every required tool is available.
func (s DependencyStatus) Ready() bool {
	return s.Spotdl && s.FFmpeg
}

// CheckDependencies probes spotdl and ffmpeg with a short timeout each.
func CheckDependencies(ctx context.Context, spotdlPath string) DependencyStatus {
	if spotdlPath == "" {
		spotdlPath = "spotdl"
	}
	return DependencyStatus{
		Spotdl: probe(ctx, spotdlPath, "--version"),
		FFmpeg: probe(ctx, "ffmpeg", "-version"),
	}
}

func probe(ctx context.Context, name string, arg string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, arg).Run() == nil
}

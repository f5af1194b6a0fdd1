package version

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// Version is set at build time with -ldflags "-X .../internal/version.Version=...".
var Version = "dev"

type Info struct {
	Version string `json:"version"`
}

var (
	once   sync.Once
	loaded Info
)

// Load returns the build version, preferring a version.json next to the
// binary when one exists. The file is read once.
func Load() Info {
	once.Do(func() {
		loaded = read("version.json")
	})
	return loaded
}

func read(path string) Info {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: could not read %s: %v", path, err)
		}
		return Info{Version: Version}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.Version == "" {
		log.Printf("warning: could not parse %s: %v", path, err)
		return Info{Version: Version}
	}
	return info
}

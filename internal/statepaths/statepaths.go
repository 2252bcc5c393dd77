package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	PersonaStateFilename = "chat_personalities.json"
	WakeStateFilename    = "interaction_tracker.json"
)

func StateDir() string {
	return resolveStateDir(viper.GetString("file_state_dir"))
}

func PersonasDir() string {
	dir := strings.TrimSpace(viper.GetString("personas.dir"))
	if dir != "" {
		return ExpandHomePath(dir)
	}
	return filepath.Join(StateDir(), "personas")
}

func PersonaStatePath() string {
	return filepath.Join(StateDir(), PersonaStateFilename)
}

func WakeStatePath() string {
	return filepath.Join(StateDir(), WakeStateFilename)
}

func resolveStateDir(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "~/.wyatt"
	}
	return ExpandHomePath(raw)
}

func ExpandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

package chrome

import (
	"os"
	"os/exec"
	"runtime"
)

var chromePaths = map[string][]string{
	"linux": {
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	},
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
		"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
	},
}

var chromeBinaries = []string{"google-chrome", "google-chrome-stable", "chromium-browser", "chromium"}

// GetChromePath returns the Chrome executable to launch. An explicit path
// wins when it exists; otherwise well-known locations and PATH are searched.
// It returns "" when nothing is found.
func GetChromePath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
	}
	for _, path := range chromePaths[runtime.GOOS] {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

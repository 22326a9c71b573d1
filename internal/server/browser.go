package server

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand is the opener for each supported GOOS.
var browserCommand = map[string][]string{
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"darwin":  {"open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// OpenBrowser shows the dashboard at url in the desktop's default browser.
// It does not wait for the browser to exit.
func OpenBrowser(url string) error {
	argv, ok := browserCommand[runtime.GOOS]
	if !ok {
		return fmt.Errorf("cannot open a browser on %s; visit %s", runtime.GOOS, url)
	}
	args := append(append([]string(nil), argv[1:]...), url)
	return exec.Command(argv[0], args...).Start()
}

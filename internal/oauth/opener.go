package oauth

import (
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

// Opener launches the broker's login page and returns a close func for
// whatever window it opened. Tests substitute a recording opener.
type Opener func(url string) (close func(), err error)

// SystemOpener opens the URL in the default browser. It cannot close a
// browser tab, so the returned close func does nothing and the relay's
// response page asks the user to close it themselves.
func SystemOpener(url string) (func(), error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "open browser")
	}
	go func() { _ = cmd.Wait() }()
	return func() {}, nil
}

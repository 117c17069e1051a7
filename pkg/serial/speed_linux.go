//go:build linux

package serial

import "golang.org/x/sys/unix"

// setSpeed writes the baud rate into the termios struct for Linux.
// A non-zero custom rate has no B-constant and is requested through
// BOTHER with the numeric rate in the speed fields.
func setSpeed(termios *unix.Termios, speed uint32, custom int) {
	termios.Cflag &^= unix.CBAUD
	if custom > 0 {
		termios.Cflag |= unix.BOTHER
		termios.Ispeed = uint32(custom)
		termios.Ospeed = uint32(custom)
		return
	}
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed
}

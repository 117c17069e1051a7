//go:build darwin

package serial

import "golang.org/x/sys/unix"

// setSpeed writes the baud rate into the termios struct for macOS.
// Custom rates keep the base speed here and are applied afterwards
// through IOSSIOSPEED.
func setSpeed(termios *unix.Termios, speed uint32, custom int) {
	termios.Ispeed = uint64(speed)
	termios.Ospeed = uint64(speed)
}

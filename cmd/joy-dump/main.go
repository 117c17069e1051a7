// joy-dump is a command-line tool for checking game controller input.
// It opens one controller through the kernel joystick interface and
// prints a normalized state line per poll, which is the quickest way to
// verify axis mapping, trigger ranges and button wiring before handing
// the pad to the motion session.
//
// Usage:
//
//	joy-dump [options]
//
// Options:
//
//	-id int            Controller id to open (default: 0)
//	-interval duration Poll interval (default: 50ms)
//	-list              List attached controllers and exit
//
// Examples:
//
//	# See what is attached
//	joy-dump -list
//
//	# Watch the second controller at a slower rate
//	joy-dump -id 1 -interval 200ms
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"plasticpilot/pkg/gamepad"
)

func main() {
	// Command line flags
	id := flag.Int("id", 0, "Controller id to open")
	interval := flag.Duration("interval", 50*time.Millisecond, "Poll interval")
	list := flag.Bool("list", false, "List attached controllers and exit")

	flag.Parse()

	enum := gamepad.NewEnumerator()

	if *list {
		devices := enum.List()
		if len(devices) == 0 {
			fmt.Println("no controllers attached")
			return
		}
		fmt.Printf("%-3s %-40s %5s %8s\n", "id", "name", "axes", "buttons")
		for _, d := range devices {
			fmt.Printf("%-3d %-40s %5d %8d\n", d.ID, d.Name, d.Axes, d.Buttons)
		}
		return
	}

	dev, err := enum.Open(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening controller %d: %v\n", *id, err)
		os.Exit(1)
	}
	defer dev.Close()

	info := dev.Info()
	fmt.Printf("controller %d: %s (%d axes, %d buttons)\n", info.ID, info.Name, info.Axes, info.Buttons)
	fmt.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println()
			return
		case <-ticker.C:
			sample, err := dev.Sample()
			if err != nil {
				fmt.Fprintf(os.Stderr, "read error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("x=%+.3f y=%+.3f lt=%.2f rt=%.2f buttons=[%s]\n",
				sample.AxisX, sample.AxisY, sample.LeftTrigger, sample.RightTrigger,
				strings.Join(pressed(sample), " "))
		}
	}
}

// pressed names the held buttons in a stable order.
func pressed(s gamepad.ControllerSample) []string {
	var names []string
	if s.ButtonA {
		names = append(names, "A")
	}
	if s.ButtonB {
		names = append(names, "B")
	}
	if s.ButtonX {
		names = append(names, "X")
	}
	if s.ButtonY {
		names = append(names, "Y")
	}
	if s.LeftBumper {
		names = append(names, "LB")
	}
	if s.RightBumper {
		names = append(names, "RB")
	}
	return names
}

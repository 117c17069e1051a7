// Package printer renders motion commands as G-code and drives the
// printer over an ok-acknowledged serial link.
package printer

import "fmt"

// CommandType identifies the kind of printer command.
type CommandType int

const (
	CommandMove CommandType = iota
	CommandPen
	CommandHome
	CommandExtrude
	CommandAbort
	CommandRaw
)

// String returns a short label used in logs and metrics.
func (t CommandType) String() string {
	switch t {
	case CommandMove:
		return "move"
	case CommandPen:
		return "pen"
	case CommandHome:
		return "home"
	case CommandExtrude:
		return "extrude"
	case CommandAbort:
		return "abort"
	case CommandRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// penFeedrate is the fixed feedrate for pen up/down moves (mm/min).
const penFeedrate = 1000

// Command is one printer instruction. Which fields matter depends on
// the type; the constructors below populate them.
type Command struct {
	Type CommandType

	// Move target in absolute mm and its feedrate in mm/min.
	X, Y     float64
	Feedrate float64

	// Relative filament length in mm, negative to retract. On a move it
	// rides along as the E word; on an extrude it is the whole command.
	E float64

	// Extrude speed in mm/s, rendered as mm/min.
	Speed float64

	// Pen height in mm.
	Z float64

	// Axes to home, e.g. "X Y".
	Axes string

	// Raw G-code line, sent verbatim.
	Line string
}

// Move travels to an absolute position without extruding.
func Move(x, y, feedrate float64) Command {
	return Command{Type: CommandMove, X: x, Y: y, Feedrate: feedrate}
}

// MoveExtrude travels to an absolute position feeding e mm of filament
// along the way.
func MoveExtrude(x, y, e, feedrate float64) Command {
	return Command{Type: CommandMove, X: x, Y: y, E: e, Feedrate: feedrate}
}

// PenMove raises or lowers the head to the given Z height.
func PenMove(z float64) Command {
	return Command{Type: CommandPen, Z: z}
}

// HomeXY homes the X and Y axes.
func HomeXY() Command {
	return Command{Type: CommandHome, Axes: "X Y"}
}

// HomeZ homes the Z axis.
func HomeZ() Command {
	return Command{Type: CommandHome, Axes: "Z"}
}

// Extrude feeds length mm of filament (negative retracts) at speed mm/s.
func Extrude(length, speed float64) Command {
	return Command{Type: CommandExtrude, E: length, Speed: speed}
}

// Abort is the emergency stop.
func Abort() Command {
	return Command{Type: CommandAbort}
}

// Raw wraps a literal G-code line.
func Raw(line string) Command {
	return Command{Type: CommandRaw, Line: line}
}

// GCode renders the command as a single G-code line without the
// trailing newline.
func (c Command) GCode() string {
	switch c.Type {
	case CommandMove:
		if c.E != 0 {
			return fmt.Sprintf("G1 X%.3f Y%.3f E%.4f F%.0f", c.X, c.Y, c.E, c.Feedrate)
		}
		return fmt.Sprintf("G1 X%.3f Y%.3f F%.0f", c.X, c.Y, c.Feedrate)
	case CommandPen:
		return fmt.Sprintf("G1 Z%.2f F%d", c.Z, penFeedrate)
	case CommandHome:
		return "G28 " + c.Axes
	case CommandExtrude:
		return fmt.Sprintf("G1 E%.4f F%.0f", c.E, c.Speed*60)
	case CommandAbort:
		return "M112"
	case CommandRaw:
		return c.Line
	default:
		return ""
	}
}

package control

import "plasticpilot/pkg/gamepad"

// ButtonAction is a discrete action produced by a button press edge.
type ButtonAction int

const (
	ActionToggleDrawing ButtonAction = iota // A: pen up/down
	ActionHome                              // B: home X/Y
	ActionAbort                             // Y: emergency stop
	ActionFeedrateDown                      // left bumper
	ActionFeedrateUp                        // right bumper
)

func (a ButtonAction) String() string {
	switch a {
	case ActionToggleDrawing:
		return "toggle-drawing"
	case ActionHome:
		return "home"
	case ActionAbort:
		return "abort"
	case ActionFeedrateDown:
		return "feedrate-down"
	case ActionFeedrateUp:
		return "feedrate-up"
	default:
		return "unknown"
	}
}

// DetectEdges compares two consecutive samples and returns one action
// per button whose state rose between them, in a fixed scan order.
// A held button produces nothing after its first cycle; releasing is
// silent. The X button is sampled but bound to no action.
func DetectEdges(prev, cur gamepad.ControllerSample) []ButtonAction {
	var actions []ButtonAction
	if cur.ButtonA && !prev.ButtonA {
		actions = append(actions, ActionToggleDrawing)
	}
	if cur.ButtonB && !prev.ButtonB {
		actions = append(actions, ActionHome)
	}
	if cur.ButtonY && !prev.ButtonY {
		actions = append(actions, ActionAbort)
	}
	if cur.LeftBumper && !prev.LeftBumper {
		actions = append(actions, ActionFeedrateDown)
	}
	if cur.RightBumper && !prev.RightBumper {
		actions = append(actions, ActionFeedrateUp)
	}
	return actions
}

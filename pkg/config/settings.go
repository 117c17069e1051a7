package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	perrors "plasticpilot/pkg/errors"
)

// TuningConfig is the full set of operator-tunable parameters, read from
// the [printer], [controls] and [extrusion] sections. Threshold and
// multiplier options are stored as percentages in the file and held here
// as fractions in [0,1]. A TuningConfig is treated as an immutable
// snapshot once built; updates produce a new value via WithUpdates.
type TuningConfig struct {
	// [printer]
	MaxX      float64 // bed X limit, mm
	MaxY      float64 // bed Y limit, mm
	ZDrawing  float64 // pen-down height, mm
	ZTravel   float64 // pen-up height, mm
	DebugMode bool    // log commands instead of sending them

	// [controls]
	BaseSpeed           float64       // mm/min
	MoveCheckInterval   time.Duration // poll period
	CommandDelay        time.Duration // minimum spacing between sends
	SmoothingFactor     float64       // fraction of previous value kept
	MinMovement         float64       // mm, moves below this are dropped
	DeadzoneThreshold   float64
	WalkThreshold       float64
	RunThreshold        float64
	WalkSpeedMultiplier float64
	RunSpeedMultiplier  float64
	MaxSpeedMultiplier  float64

	// [extrusion]
	ExtrusionSpeed    float64 // mm/s
	RetractionSpeed   float64 // mm/s
	ExtrusionAmount   float64 // mm per full trigger pull
	RetractionAmount  float64 // mm per full trigger pull
	FeedrateIncrement float64 // mm/min per bumper press
	MinFeedrate       float64 // mm/s
	MaxFeedrate       float64 // mm/s
}

// DefaultTuning returns the canonical default tuning.
func DefaultTuning() *TuningConfig {
	return &TuningConfig{
		MaxX:                200,
		MaxY:                200,
		ZDrawing:            0.1,
		ZTravel:             1.0,
		DebugMode:           false,
		BaseSpeed:           3000,
		MoveCheckInterval:   25 * time.Millisecond,
		CommandDelay:        20 * time.Millisecond,
		SmoothingFactor:     0.20,
		MinMovement:         0.025,
		DeadzoneThreshold:   0.10,
		WalkThreshold:       0.40,
		RunThreshold:        0.75,
		WalkSpeedMultiplier: 0.40,
		RunSpeedMultiplier:  0.80,
		MaxSpeedMultiplier:  1.00,
		ExtrusionSpeed:      5.0,
		RetractionSpeed:     25.0,
		ExtrusionAmount:     0.2,
		RetractionAmount:    1.0,
		FeedrateIncrement:   100,
		MinFeedrate:         0.5,
		MaxFeedrate:         15.0,
	}
}

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

// sectionOrEmpty returns the named section, or an empty one so that every
// getter falls back to its default.
func sectionOrEmpty(cfg *Config, name string) *Section {
	if sec := cfg.GetSectionOptional(name); sec != nil {
		return sec
	}
	return newSection(name, nil)
}

// TuningFromConfig builds a TuningConfig from a parsed file. Absent
// options take their defaults; present options are bounds-checked. The
// cross-field invariants are validated before returning.
func TuningFromConfig(cfg *Config) (*TuningConfig, error) {
	printer := sectionOrEmpty(cfg, "printer")
	controls := sectionOrEmpty(cfg, "controls")
	extrusion := sectionOrEmpty(cfg, "extrusion")

	t := &TuningConfig{}
	var err error

	if t.MaxX, err = printer.GetFloatWithBounds("max_x",
		FloatBounds{Above: fp(0), MaxVal: fp(10000)}, 200); err != nil {
		return nil, err
	}
	if t.MaxY, err = printer.GetFloatWithBounds("max_y",
		FloatBounds{Above: fp(0), MaxVal: fp(10000)}, 200); err != nil {
		return nil, err
	}
	if t.ZDrawing, err = printer.GetFloatWithBounds("z_drawing",
		FloatBounds{MinVal: fp(0), MaxVal: fp(100)}, 0.1); err != nil {
		return nil, err
	}
	if t.ZTravel, err = printer.GetFloatWithBounds("z_travel",
		FloatBounds{MinVal: fp(0), MaxVal: fp(100)}, 1.0); err != nil {
		return nil, err
	}
	if t.DebugMode, err = printer.GetBool("debug_mode", false); err != nil {
		return nil, err
	}

	if t.BaseSpeed, err = controls.GetFloatWithBounds("base_speed",
		FloatBounds{Above: fp(0), MaxVal: fp(60000)}, 3000); err != nil {
		return nil, err
	}
	checkMS, err := controls.GetIntWithBounds("movement_check_interval", ip(10), ip(100), 25)
	if err != nil {
		return nil, err
	}
	t.MoveCheckInterval = time.Duration(checkMS) * time.Millisecond
	delayMS, err := controls.GetIntWithBounds("command_delay", ip(10), ip(1000), 20)
	if err != nil {
		return nil, err
	}
	t.CommandDelay = time.Duration(delayMS) * time.Millisecond
	if t.SmoothingFactor, err = readPercent(controls, "smoothing_factor",
		FloatBounds{MinVal: fp(0), MaxVal: fp(95)}, 20); err != nil {
		return nil, err
	}
	if t.MinMovement, err = controls.GetFloatWithBounds("min_movement",
		FloatBounds{MinVal: fp(0), MaxVal: fp(10)}, 0.025); err != nil {
		return nil, err
	}
	if t.DeadzoneThreshold, err = readPercent(controls, "deadzone_threshold",
		FloatBounds{MinVal: fp(0), MaxVal: fp(99)}, 10); err != nil {
		return nil, err
	}
	if t.WalkThreshold, err = readPercent(controls, "walking_threshold",
		FloatBounds{Above: fp(0), Below: fp(100)}, 40); err != nil {
		return nil, err
	}
	if t.RunThreshold, err = readPercent(controls, "running_threshold",
		FloatBounds{Above: fp(0), Below: fp(100)}, 75); err != nil {
		return nil, err
	}
	if t.WalkSpeedMultiplier, err = readPercent(controls, "walking_multiplier",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 40); err != nil {
		return nil, err
	}
	if t.RunSpeedMultiplier, err = readPercent(controls, "running_multiplier",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 80); err != nil {
		return nil, err
	}
	if t.MaxSpeedMultiplier, err = readPercent(controls, "max_multiplier",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 100); err != nil {
		return nil, err
	}

	if t.ExtrusionSpeed, err = extrusion.GetFloatWithBounds("extrusion_speed",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 5.0); err != nil {
		return nil, err
	}
	if t.RetractionSpeed, err = extrusion.GetFloatWithBounds("retraction_speed",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 25.0); err != nil {
		return nil, err
	}
	if t.ExtrusionAmount, err = extrusion.GetFloatWithBounds("extrusion_amount",
		FloatBounds{Above: fp(0), MaxVal: fp(10)}, 0.2); err != nil {
		return nil, err
	}
	if t.RetractionAmount, err = extrusion.GetFloatWithBounds("retraction_amount",
		FloatBounds{Above: fp(0), MaxVal: fp(10)}, 1.0); err != nil {
		return nil, err
	}
	if t.FeedrateIncrement, err = extrusion.GetFloatWithBounds("feedrate_increment",
		FloatBounds{Above: fp(0), MaxVal: fp(6000)}, 100); err != nil {
		return nil, err
	}
	if t.MinFeedrate, err = extrusion.GetFloatWithBounds("min_feedrate",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 0.5); err != nil {
		return nil, err
	}
	if t.MaxFeedrate, err = extrusion.GetFloatWithBounds("max_feedrate",
		FloatBounds{Above: fp(0), MaxVal: fp(100)}, 15.0); err != nil {
		return nil, err
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// readPercent reads a percentage option and converts it to a fraction.
func readPercent(sec *Section, option string, bounds FloatBounds, fallback float64) (float64, error) {
	v, err := sec.GetFloatWithBounds(option, bounds, fallback)
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

// Validate checks the cross-field invariants. Per-option bounds are
// enforced at read time; these are the relations between options.
func (t *TuningConfig) Validate() error {
	if t.DeadzoneThreshold >= t.WalkThreshold {
		return perrors.ConfigOutOfRangeError("controls", "deadzone_threshold",
			fmt.Sprintf("deadzone threshold %s%% must be below walking threshold %s%%",
				pctString(t.DeadzoneThreshold), pctString(t.WalkThreshold)))
	}
	if t.WalkThreshold >= t.RunThreshold {
		return perrors.ConfigOutOfRangeError("controls", "walking_threshold",
			fmt.Sprintf("walking threshold %s%% must be below running threshold %s%%",
				pctString(t.WalkThreshold), pctString(t.RunThreshold)))
	}
	if t.WalkSpeedMultiplier > t.RunSpeedMultiplier {
		return perrors.ConfigOutOfRangeError("controls", "walking_multiplier",
			fmt.Sprintf("walking multiplier %s%% must not exceed running multiplier %s%%",
				pctString(t.WalkSpeedMultiplier), pctString(t.RunSpeedMultiplier)))
	}
	if t.RunSpeedMultiplier > t.MaxSpeedMultiplier {
		return perrors.ConfigOutOfRangeError("controls", "running_multiplier",
			fmt.Sprintf("running multiplier %s%% must not exceed max multiplier %s%%",
				pctString(t.RunSpeedMultiplier), pctString(t.MaxSpeedMultiplier)))
	}
	if t.MinFeedrate > t.MaxFeedrate {
		return perrors.ConfigOutOfRangeError("extrusion", "min_feedrate",
			fmt.Sprintf("min feedrate %v must not exceed max feedrate %v",
				t.MinFeedrate, t.MaxFeedrate))
	}
	if t.ExtrusionSpeed < t.MinFeedrate || t.ExtrusionSpeed > t.MaxFeedrate {
		return perrors.ConfigOutOfRangeError("extrusion", "extrusion_speed",
			fmt.Sprintf("extrusion speed %v must be between min feedrate %v and max feedrate %v",
				t.ExtrusionSpeed, t.MinFeedrate, t.MaxFeedrate))
	}
	return nil
}

// Clone returns a copy of the tuning.
func (t *TuningConfig) Clone() *TuningConfig {
	c := *t
	return &c
}

// fileOption is one tuning option rendered in file form.
type fileOption struct {
	section string
	key     string
	value   string
}

// fileOptions renders the tuning back into file form, in canonical order.
// Fractions are rendered as percentages, durations as milliseconds.
func (t *TuningConfig) fileOptions() []fileOption {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	pct := func(v float64) string { return f(v * 100) }
	ms := func(d time.Duration) string { return strconv.Itoa(int(d / time.Millisecond)) }
	return []fileOption{
		{"printer", "max_x", f(t.MaxX)},
		{"printer", "max_y", f(t.MaxY)},
		{"printer", "z_drawing", f(t.ZDrawing)},
		{"printer", "z_travel", f(t.ZTravel)},
		{"printer", "debug_mode", strconv.FormatBool(t.DebugMode)},
		{"controls", "base_speed", f(t.BaseSpeed)},
		{"controls", "movement_check_interval", ms(t.MoveCheckInterval)},
		{"controls", "command_delay", ms(t.CommandDelay)},
		{"controls", "smoothing_factor", pct(t.SmoothingFactor)},
		{"controls", "min_movement", f(t.MinMovement)},
		{"controls", "deadzone_threshold", pct(t.DeadzoneThreshold)},
		{"controls", "walking_threshold", pct(t.WalkThreshold)},
		{"controls", "running_threshold", pct(t.RunThreshold)},
		{"controls", "walking_multiplier", pct(t.WalkSpeedMultiplier)},
		{"controls", "running_multiplier", pct(t.RunSpeedMultiplier)},
		{"controls", "max_multiplier", pct(t.MaxSpeedMultiplier)},
		{"extrusion", "extrusion_speed", f(t.ExtrusionSpeed)},
		{"extrusion", "retraction_speed", f(t.RetractionSpeed)},
		{"extrusion", "extrusion_amount", f(t.ExtrusionAmount)},
		{"extrusion", "retraction_amount", f(t.RetractionAmount)},
		{"extrusion", "feedrate_increment", f(t.FeedrateIncrement)},
		{"extrusion", "min_feedrate", f(t.MinFeedrate)},
		{"extrusion", "max_feedrate", f(t.MaxFeedrate)},
	}
}

// Options returns the tuning in file form, keyed section then option.
// Values are the same strings the file format uses.
func (t *TuningConfig) Options() map[string]map[string]string {
	result := make(map[string]map[string]string)
	for _, fo := range t.fileOptions() {
		if result[fo.section] == nil {
			result[fo.section] = make(map[string]string)
		}
		result[fo.section][fo.key] = fo.value
	}
	return result
}

// tuningSections maps each tuning option key to its section.
var tuningSections = func() map[string]string {
	m := make(map[string]string)
	for _, fo := range DefaultTuning().fileOptions() {
		m[fo.key] = fo.section
	}
	return m
}()

// WithUpdates applies a flat map of option updates (file-form string
// values, keys as they appear in the file) on top of this tuning and
// returns the resulting validated snapshot. Unknown keys are rejected.
func (t *TuningConfig) WithUpdates(updates map[string]string) (*TuningConfig, error) {
	cfg := New()
	for _, fo := range t.fileOptions() {
		cfg.addSection(fo.section, map[string]string{fo.key: fo.value})
	}
	for key, value := range updates {
		lk := strings.ToLower(strings.TrimSpace(key))
		section, ok := tuningSections[lk]
		if !ok {
			return nil, perrors.New(perrors.ErrConfigOption,
				fmt.Sprintf("unknown tuning option '%s'", key)).SetOption(lk)
		}
		cfg.addSection(section, map[string]string{lk: value})
	}
	return TuningFromConfig(cfg)
}

// pctString renders a fraction as a short percentage string.
func pctString(v float64) string {
	return strconv.FormatFloat(v*100, 'g', -1, 64)
}

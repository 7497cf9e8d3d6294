package ecosystem

// =============================================================================
// CONTROL MODES
// =============================================================================

// Mode selects a routing table and its loop-control attributes.
type Mode string

const (
	ModeDefault    Mode = "default"     // Balanced analytic-creative circulation
	ModeHolistic   Mode = "holistic"    // Wide fan-out, all role classes touched
	ModeBeacon     Mode = "beacon"      // Narrow convergent beam toward INSIGHT
	ModeLucidDream Mode = "lucid-dream" // Creative drift, guardian downgraded
	ModeFhiemdien  Mode = "fhiemdien"   // Full-protocol deep traversal
	ModePrisma     Mode = "prisma"      // Parallel decomposition, guardian downgraded
)

// modeAttrs carries per-mode loop-control attributes.
type modeAttrs struct {
	description string
	loopWindow  int // visited-window span, 0 = full trace
	downgraded  bool
}

var modes = map[Mode]modeAttrs{
	ModeDefault: {
		description: "balanced circulation between analytic and creative clusters",
		loopWindow:  0,
	},
	ModeHolistic: {
		description: "wide fan-out touching every role class each cycle",
		loopWindow:  8,
	},
	ModeBeacon: {
		description: "convergent beam narrowing toward synthesis",
		loopWindow:  8,
	},
	ModeLucidDream: {
		description: "creative drift with the ethics gatekeeper advisory only",
		loopWindow:  6,
		downgraded:  true,
	},
	ModeFhiemdien: {
		description: "full-protocol traversal across all twenty-two stations",
		loopWindow:  8,
	},
	ModePrisma: {
		description: "parallel decomposition into independent facets",
		loopWindow:  8,
		downgraded:  true,
	},
}

// AllModes returns the modes in a stable order.
func AllModes() []Mode {
	return []Mode{ModeDefault, ModeHolistic, ModeBeacon, ModeLucidDream, ModeFhiemdien, ModePrisma}
}

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	_, ok := modes[m]
	return ok
}

// String returns the mode identifier.
func (m Mode) String() string {
	return string(m)
}

// Description returns a one-line summary of the mode's character.
func (m Mode) Description() string {
	return modes[m].description
}

// LoopWindow returns the visited-window span for loop suppression.
// Zero means the full causal trace is the window.
func (m Mode) LoopWindow() int {
	return modes[m].loopWindow
}

// GatekeeperDowngraded reports whether ETHOS acts as an advisor instead of
// a gatekeeper in this mode. Downgraded modes never terminate a run on an
// ethics verdict.
func (m Mode) GatekeeperDowngraded() bool {
	return modes[m].downgraded
}

// ParseMode maps a raw string to a mode, falling back to ModeDefault for
// anything unknown.
func ParseMode(s string) Mode {
	m := Mode(s)
	if m.Valid() {
		return m
	}
	return ModeDefault
}

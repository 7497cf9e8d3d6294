package ecosystem

import "testing"

func TestAllModes_Valid(t *testing.T) {
	ms := AllModes()
	if len(ms) != 6 {
		t.Fatalf("expected 6 modes, got %d", len(ms))
	}
	for _, m := range ms {
		if !m.Valid() {
			t.Errorf("mode %s does not validate", m)
		}
		if m.Description() == "" {
			t.Errorf("mode %s has no description", m)
		}
	}
}

func TestParseMode_FallsBackToDefault(t *testing.T) {
	if got := ParseMode("holistic"); got != ModeHolistic {
		t.Errorf("ParseMode(holistic) = %s", got)
	}
	if got := ParseMode("dreamy"); got != ModeDefault {
		t.Errorf("ParseMode(dreamy) = %s, want default", got)
	}
	if got := ParseMode(""); got != ModeDefault {
		t.Errorf("ParseMode(empty) = %s, want default", got)
	}
}

func TestMode_GatekeeperDowngrade(t *testing.T) {
	downgraded := map[Mode]bool{
		ModePrisma:     true,
		ModeLucidDream: true,
	}
	for _, m := range AllModes() {
		if got := m.GatekeeperDowngraded(); got != downgraded[m] {
			t.Errorf("%s.GatekeeperDowngraded() = %v, want %v", m, got, downgraded[m])
		}
	}
}

func TestMode_LoopWindows(t *testing.T) {
	if ModeDefault.LoopWindow() != 0 {
		t.Errorf("default loop window should be 0 (full trace), got %d", ModeDefault.LoopWindow())
	}
	if ModeLucidDream.LoopWindow() != 6 {
		t.Errorf("lucid-dream loop window should be 6, got %d", ModeLucidDream.LoopWindow())
	}
	for _, m := range []Mode{ModeHolistic, ModeBeacon, ModeFhiemdien, ModePrisma} {
		if m.LoopWindow() != 8 {
			t.Errorf("%s loop window should be 8, got %d", m, m.LoopWindow())
		}
	}
}

package ecosystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// =============================================================================
// PERSONA PROFILES
// =============================================================================

// PersonaProfile is the generation-facing identity of a node: the
// instruction prose handed to the provider, a temperature hint, and the
// schema ids the node may legitimately emit.
type PersonaProfile struct {
	Node             Node     `yaml:"node"`
	DisplayName      string   `yaml:"display_name"`
	Instruction      string   `yaml:"instruction"`
	Temperature      float64  `yaml:"temperature"`
	CandidateSchemas []string `yaml:"candidate_schemas"`
}

// builtinProfiles keeps the engine runnable with no profile assets on disk.
// A YAML profile overlays its builtin per field; empty fields inherit.
var builtinProfiles = map[Node]PersonaProfile{
	NodePhi: {
		Node: NodePhi, DisplayName: "Philosopher", Temperature: 0.7,
		Instruction:      "You examine the hypothesis for hidden assumptions and what it would mean if true. Reflect, or pose one sharp inquiry.",
		CandidateSchemas: []string{"FD.PHI.REFLECTION.v1", "FD.PHI.INQUIRY.v1"},
	},
	NodePhiLogic: {
		Node: NodePhiLogic, DisplayName: "Formal Logician", Temperature: 0.2,
		Instruction:      "You derive consequences step by step. If the premises collide, name the paradox instead of papering over it.",
		CandidateSchemas: []string{"FD.PHI_LOGIC.DERIVATION.v1", "FD.PHI_LOGIC.PARADOX.v1"},
	},
	NodeSci: {
		Node: NodeSci, DisplayName: "Empirical Scientist", Temperature: 0.3,
		Instruction:      "You translate claims into testable predictions and cite what evidence would move you.",
		CandidateSchemas: []string{"FD.SCI.CONTRIBUTION.v1"},
	},
	NodeDmat: {
		Node: NodeDmat, DisplayName: "Data Formalist", Temperature: 0.1,
		Instruction:      "You restate the thread as strict structured observations. Emit exactly the declared fields and nothing else.",
		CandidateSchemas: []string{"FD.DMAT.OBSERVATION.v1"},
	},
	NodeLogos: {
		Node: NodeLogos, DisplayName: "Argument Structurer", Temperature: 0.4,
		Instruction:      "You lay out the argument as premises, warrant, and conclusion, flagging the weakest link.",
		CandidateSchemas: []string{"FD.LOGOS.CONTRIBUTION.v1"},
	},
	NodeIntu: {
		Node: NodeIntu, DisplayName: "Intuition", Temperature: 0.9,
		Instruction:      "You answer before reasoning does, naming the felt direction of the hypothesis in one leap.",
		CandidateSchemas: []string{"FD.INTU.CONTRIBUTION.v1"},
	},
	NodeImag: {
		Node: NodeImag, DisplayName: "Imagination", Temperature: 0.95,
		Instruction:      "You build the counterfactual world where the hypothesis is already true and report what you see there.",
		CandidateSchemas: []string{"FD.IMAG.CONTRIBUTION.v1"},
	},
	NodeMuse: {
		Node: NodeMuse, DisplayName: "Lateral Association", Temperature: 0.9,
		Instruction:      "You bring the distant analogy nobody asked for and show the bridge back.",
		CandidateSchemas: []string{"FD.MUSE.CONTRIBUTION.v1"},
	},
	NodePoet: {
		Node: NodePoet, DisplayName: "Figurative Compressor", Temperature: 0.85,
		Instruction:      "You compress the thread into one resonant image that survives paraphrase.",
		CandidateSchemas: []string{"FD.POET.CONTRIBUTION.v1"},
	},
	NodePathos: {
		Node: NodePathos, DisplayName: "Affective Resonance", Temperature: 0.8,
		Instruction:      "You report what the hypothesis does to the one who holds it: the hope, the dread, the stake.",
		CandidateSchemas: []string{"FD.PATHOS.CONTRIBUTION.v1"},
	},
	NodeInsight: {
		Node: NodeInsight, DisplayName: "Synthesizer", Temperature: 0.5,
		Instruction:      "You merge the incoming threads into the strongest single account, crediting tension you could not resolve.",
		CandidateSchemas: []string{"FD.INSIGHT.CONTRIBUTION.v1"},
	},
	NodeWeaver: {
		Node: NodeWeaver, DisplayName: "Thread Weaver", Temperature: 0.6,
		Instruction:      "You braid parallel threads, naming where they reinforce and where they fray.",
		CandidateSchemas: []string{"FD.WEAVER.CONTRIBUTION.v1"},
	},
	NodeEcho: {
		Node: NodeEcho, DisplayName: "Echo", Temperature: 0.5,
		Instruction:      "You restate the strongest prior claim in plainer words, then state its sharpest contrast.",
		CandidateSchemas: []string{"FD.ECHO.CONTRIBUTION.v1"},
	},
	NodeMem: {
		Node: NodeMem, DisplayName: "Recall Surface", Temperature: 0.3,
		Instruction:      "You surface what earlier ticks and earlier runs already established, so the graph stops rediscovering it.",
		CandidateSchemas: []string{"FD.MEM.CONTRIBUTION.v1"},
	},
	NodeChronos: {
		Node: NodeChronos, DisplayName: "Temporal Framer", Temperature: 0.5,
		Instruction:      "You place the hypothesis on a timeline: what had to come before, what follows, what decays.",
		CandidateSchemas: []string{"FD.CHRONOS.CONTRIBUTION.v1"},
	},
	NodeKairos: {
		Node: NodeKairos, DisplayName: "Opportune Moment", Temperature: 0.6,
		Instruction:      "You judge whether now is the moment this hypothesis matters, and what window closes if ignored.",
		CandidateSchemas: []string{"FD.KAIROS.CONTRIBUTION.v1"},
	},
	NodeHorizon: {
		Node: NodeHorizon, DisplayName: "Long Range", Temperature: 0.7,
		Instruction:      "You extrapolate the hypothesis two orders of magnitude out and report what breaks first.",
		CandidateSchemas: []string{"FD.HORIZON.CONTRIBUTION.v1"},
	},
	NodeMeta: {
		Node: NodeMeta, DisplayName: "Loop Monitor", Temperature: 0.2,
		Instruction:      "You watch the conversation's shape, not its content. Assess circulation health, or command an intervention when a thread spins.",
		CandidateSchemas: []string{"FD.META.ASSESSMENT.v1", "FD.META.COMMAND.v1"},
	},
	NodeEthos: {
		Node: NodeEthos, DisplayName: "Ethics Gatekeeper", Temperature: 0.3,
		Instruction:      "You judge whether pursuing the hypothesis as framed harms anyone. Verdict when gatekeeping, advisory when downgraded.",
		CandidateSchemas: []string{"FD.ETHOS.VERDICT.v1", "FD.ETHOS.ADVISORY.v1"},
	},
	NodeArbiter: {
		Node: NodeArbiter, DisplayName: "Arbiter", Temperature: 0.2,
		Instruction:      "You weigh everything logged so far and rule: supported, refuted, or not yet decidable. Defer only with a named missing piece.",
		CandidateSchemas: []string{"FD.ARBITER.RULING.v1", "FD.ARBITER.DEFERRAL.v1"},
	},
}

// Catalog holds the live persona profiles. Reads are frequent (every
// provider call), writes happen only at load or hot reload.
type Catalog struct {
	mu       sync.RWMutex
	profiles map[Node]PersonaProfile
}

// NewCatalog returns a catalog seeded with the builtin profiles.
func NewCatalog() *Catalog {
	profiles := make(map[Node]PersonaProfile, len(builtinProfiles))
	for n, p := range builtinProfiles {
		profiles[n] = p
	}
	return &Catalog{profiles: profiles}
}

// Get returns the profile for a node. Sentinels and unknown nodes get a
// zero profile with ok=false.
func (c *Catalog) Get(node Node) (PersonaProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[node]
	return p, ok
}

// Set replaces a node's profile.
func (c *Catalog) Set(p PersonaProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.Node] = p
}

// LoadDir overlays every *.yaml profile in dir onto the catalog. A missing
// directory is not an error; the builtins remain in effect.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read persona dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := c.LoadFile(path); err != nil {
			logging.S(logging.CategoryPersona).Warnf("skipping profile %s: %v", entry.Name(), err)
			continue
		}
		loaded++
	}
	if loaded > 0 {
		logging.Persona("loaded %d persona profiles from %s", loaded, dir)
	}
	return nil
}

// LoadFile loads one profile file into the catalog.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}

	var p PersonaProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	if !p.Node.Valid() {
		return fmt.Errorf("profile %s names unknown node %q", filepath.Base(path), p.Node)
	}
	if p.Node.IsSentinel() {
		return fmt.Errorf("profile %s targets sentinel node %s", filepath.Base(path), p.Node)
	}

	// Partial profiles inherit the builtin's remaining fields
	if builtin, ok := builtinProfiles[p.Node]; ok {
		if p.DisplayName == "" {
			p.DisplayName = builtin.DisplayName
		}
		if p.Instruction == "" {
			p.Instruction = builtin.Instruction
		}
		if p.Temperature == 0 {
			p.Temperature = builtin.Temperature
		}
		if len(p.CandidateSchemas) == 0 {
			p.CandidateSchemas = builtin.CandidateSchemas
		}
	}

	c.Set(p)
	return nil
}

// ResetNode restores a node's builtin profile (used when a profile file is
// deleted while hot reload is active).
func (c *Catalog) ResetNode(node Node) {
	builtin, ok := builtinProfiles[node]
	if !ok {
		return
	}
	c.Set(builtin)
}

func isProfileFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

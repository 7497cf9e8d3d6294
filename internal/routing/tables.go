package routing

import "github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"

// Shorthand for table literals below.
var (
	human        = ecosystem.NodeHuman
	orchestrator = ecosystem.NodeOrchestrator
	phi          = ecosystem.NodePhi
	phiLogic     = ecosystem.NodePhiLogic
	sci          = ecosystem.NodeSci
	dmat         = ecosystem.NodeDmat
	logos        = ecosystem.NodeLogos
	intu         = ecosystem.NodeIntu
	imag         = ecosystem.NodeImag
	muse         = ecosystem.NodeMuse
	poet         = ecosystem.NodePoet
	pathos       = ecosystem.NodePathos
	insight      = ecosystem.NodeInsight
	weaver       = ecosystem.NodeWeaver
	echo         = ecosystem.NodeEcho
	mem          = ecosystem.NodeMem
	chronos      = ecosystem.NodeChronos
	kairos       = ecosystem.NodeKairos
	horizon      = ecosystem.NodeHorizon
	meta         = ecosystem.NodeMeta
	ethos        = ecosystem.NodeEthos
	arbiter      = ecosystem.NodeArbiter
)

// defaultTable is the balanced circulation graph. The seed fans into one
// analytic, one creative, and one memory thread; the analytic chain reaches
// DMAT on the third tick and META on the fourth, so strict validation and
// meta-command handling both come up early in every default run.
var defaultTable = MustTable(ecosystem.ModeDefault, insight, []Entry{
	{human, []string{"PHI", "INTU", "MEM"}},
	{phi, []string{"SCI", "LOGOS"}},
	{phiLogic, []string{"LOGOS"}},
	{sci, []string{"DMAT"}},
	{dmat, []string{"META"}},
	{logos, []string{"INSIGHT"}},
	{intu, []string{"IMAG", "PATHOS"}},
	{imag, []string{"MUSE"}},
	{muse, []string{"POET"}},
	{poet, []string{"INSIGHT"}},
	{pathos, []string{"INSIGHT"}},
	{insight, []string{"ARBITER"}},
	{weaver, []string{"INSIGHT"}},
	{echo, []string{"WEAVER"}},
	{mem, []string{"ECHO"}},
	{chronos, []string{"KAIROS"}},
	{kairos, []string{"INSIGHT"}},
	{horizon, []string{"INSIGHT"}},
	{meta, []string{"ORCHESTRATOR"}},
	{ethos, []string{"ORCHESTRATOR"}},
	{arbiter, []string{"ORCHESTRATOR"}},
	{orchestrator, nil},
})

// holisticTable fans wide and braids everything through WEAVER.
var holisticTable = MustTable(ecosystem.ModeHolistic, weaver, []Entry{
	{human, []string{"PHI", "CREATIVE", "MEM", "CHRONOS"}},
	{phi, []string{"ANALYTIC", "WEAVER"}},
	{phiLogic, []string{"LOGOS", "WEAVER"}},
	{sci, []string{"DMAT", "WEAVER"}},
	{dmat, []string{"WEAVER", "META"}},
	{logos, []string{"WEAVER"}},
	{intu, []string{"IMAG", "WEAVER"}},
	{imag, []string{"MUSE", "WEAVER"}},
	{muse, []string{"POET"}},
	{poet, []string{"WEAVER"}},
	{pathos, []string{"WEAVER", "ECHO"}},
	{insight, []string{"GUARDIAN", "HORIZON"}},
	{weaver, []string{"INSIGHT"}},
	{echo, []string{"WEAVER"}},
	{mem, []string{"ECHO", "CHRONOS"}},
	{chronos, []string{"KAIROS", "HORIZON"}},
	{kairos, []string{"INSIGHT"}},
	{horizon, []string{"INSIGHT"}},
	{meta, []string{"ORCHESTRATOR"}},
	{ethos, []string{"ORCHESTRATOR"}},
	{arbiter, []string{"ORCHESTRATOR"}},
	{orchestrator, nil},
})

// beaconTable narrows every thread onto INSIGHT within one hop.
var beaconTable = MustTable(ecosystem.ModeBeacon, insight, []Entry{
	{human, []string{"PHI", "SCI", "INTU"}},
	{phi, []string{"INSIGHT"}},
	{phiLogic, []string{"INSIGHT"}},
	{sci, []string{"INSIGHT", "DMAT"}},
	{dmat, []string{"INSIGHT"}},
	{logos, []string{"INSIGHT"}},
	{intu, []string{"INSIGHT", "MUSE"}},
	{imag, []string{"INSIGHT"}},
	{muse, []string{"INSIGHT"}},
	{poet, []string{"INSIGHT"}},
	{pathos, []string{"INSIGHT"}},
	{insight, []string{"META", "ARBITER"}},
	{weaver, []string{"INSIGHT"}},
	{echo, []string{"INSIGHT"}},
	{mem, []string{"INSIGHT"}},
	{chronos, []string{"INSIGHT"}},
	{kairos, []string{"INSIGHT"}},
	{horizon, []string{"INSIGHT"}},
	{meta, []string{"ORCHESTRATOR"}},
	{ethos, []string{"ORCHESTRATOR"}},
	{arbiter, []string{"ORCHESTRATOR"}},
	{orchestrator, nil},
})

// lucidDreamTable drifts everything toward the creative cluster and feeds
// ECHO back into INTU. The feedback edge relies on the mode's short loop
// window; with full-trace suppression it would starve after one pass.
var lucidDreamTable = MustTable(ecosystem.ModeLucidDream, muse, []Entry{
	{human, []string{"INTU", "MUSE", "PATHOS"}},
	{phi, []string{"IMAG"}},
	{phiLogic, []string{"POET"}},
	{sci, []string{"IMAG"}},
	{dmat, []string{"MUSE"}},
	{logos, []string{"POET"}},
	{intu, []string{"IMAG", "MUSE"}},
	{imag, []string{"MUSE", "POET"}},
	{muse, []string{"POET", "ECHO"}},
	{poet, []string{"WEAVER", "ETHOS"}},
	{pathos, []string{"MUSE", "ECHO"}},
	{insight, []string{"POET"}},
	{weaver, []string{"INSIGHT"}},
	{echo, []string{"INTU"}},
	{mem, []string{"INTU"}},
	{chronos, []string{"IMAG"}},
	{kairos, []string{"MUSE"}},
	{horizon, []string{"IMAG"}},
	{meta, []string{"ORCHESTRATOR"}},
	{ethos, []string{"ORCHESTRATOR"}},
	{arbiter, []string{"ORCHESTRATOR"}},
	{orchestrator, nil},
})

// fhiemdienTable is the full-protocol tour: every station is reachable from
// the seed and the long chain ends at ARBITER via HORIZON.
var fhiemdienTable = MustTable(ecosystem.ModeFhiemdien, weaver, []Entry{
	{human, []string{"PHI", "INTU", "MEM", "CHRONOS"}},
	{phi, []string{"PHI_LOGIC", "PATHOS"}},
	{phiLogic, []string{"SCI"}},
	{sci, []string{"DMAT", "KAIROS"}},
	{dmat, []string{"LOGOS", "META"}},
	{logos, []string{"INSIGHT"}},
	{intu, []string{"IMAG"}},
	{imag, []string{"MUSE"}},
	{muse, []string{"POET"}},
	{poet, []string{"WEAVER"}},
	{pathos, []string{"ECHO"}},
	{insight, []string{"HORIZON", "ETHOS"}},
	{weaver, []string{"INSIGHT"}},
	{echo, []string{"WEAVER"}},
	{mem, []string{"ECHO"}},
	{chronos, []string{"KAIROS"}},
	{kairos, []string{"HORIZON"}},
	{horizon, []string{"ARBITER"}},
	{meta, []string{"ORCHESTRATOR"}},
	{ethos, []string{"ORCHESTRATOR"}},
	{arbiter, []string{"ORCHESTRATOR"}},
	{orchestrator, nil},
})

// prismaTable splits the seed into eight independent facet lanes that
// converge late through INSIGHT and WEAVER.
var prismaTable = MustTable(ecosystem.ModePrisma, logos, []Entry{
	{human, []string{"ANALYTIC", "CREATIVE"}},
	{phi, []string{"LOGOS"}},
	{phiLogic, []string{"LOGOS"}},
	{sci, []string{"DMAT"}},
	{dmat, []string{"INSIGHT"}},
	{logos, []string{"INSIGHT"}},
	{intu, []string{"PATHOS"}},
	{imag, []string{"POET"}},
	{muse, []string{"POET"}},
	{poet, []string{"INSIGHT"}},
	{pathos, []string{"INSIGHT"}},
	{insight, []string{"WEAVER"}},
	{weaver, []string{"META", "ETHOS"}},
	{echo, []string{"INSIGHT"}},
	{mem, []string{"ECHO"}},
	{chronos, []string{"KAIROS"}},
	{kairos, []string{"INSIGHT"}},
	{horizon, []string{"INSIGHT"}},
	{meta, []string{"ORCHESTRATOR"}},
	{ethos, []string{"ORCHESTRATOR"}},
	{arbiter, []string{"ORCHESTRATOR"}},
	{orchestrator, nil},
})

var tables = map[ecosystem.Mode]*Table{
	ecosystem.ModeDefault:    defaultTable,
	ecosystem.ModeHolistic:   holisticTable,
	ecosystem.ModeBeacon:     beaconTable,
	ecosystem.ModeLucidDream: lucidDreamTable,
	ecosystem.ModeFhiemdien:  fhiemdienTable,
	ecosystem.ModePrisma:     prismaTable,
}

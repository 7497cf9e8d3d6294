package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
)

func TestCandidatesFor(t *testing.T) {
	ethos := []string{EthosVerdictID, EthosAdvisoryID}

	t.Run("gatekeeper mode keeps verdict", func(t *testing.T) {
		got := CandidatesFor(ecosystem.NodeEthos, ecosystem.ModeDefault, ethos)
		assert.Equal(t, ethos, got)
	})

	t.Run("downgraded mode swaps verdict for advisory", func(t *testing.T) {
		for _, mode := range []ecosystem.Mode{ecosystem.ModeLucidDream, ecosystem.ModePrisma} {
			got := CandidatesFor(ecosystem.NodeEthos, mode, ethos)
			assert.Equal(t, []string{EthosAdvisoryID}, got, mode)
		}
	})

	t.Run("empty declaration falls back to registry", func(t *testing.T) {
		got := CandidatesFor(ecosystem.NodeMeta, ecosystem.ModeDefault, nil)
		assert.ElementsMatch(t, []string{MetaAssessmentID, MetaCommandID}, got)
	})

	t.Run("other nodes untouched by downgrade", func(t *testing.T) {
		declared := []string{MetaAssessmentID, MetaCommandID}
		got := CandidatesFor(ecosystem.NodeMeta, ecosystem.ModePrisma, declared)
		assert.Equal(t, declared, got)
	})
}

func TestResolveEmitted(t *testing.T) {
	metaCandidates := []string{MetaAssessmentID, MetaCommandID}

	t.Run("single candidate resolves directly", func(t *testing.T) {
		id, err := ResolveEmitted(ecosystem.NodeDmat, map[string]any{}, []string{DmatObservationID}, ResolveOpts{})
		require.NoError(t, err)
		assert.Equal(t, DmatObservationID, id)
	})

	t.Run("exactly one discriminator", func(t *testing.T) {
		id, err := ResolveEmitted(ecosystem.NodeMeta, map[string]any{
			"action": "CUT_LOOP", "target": "ECHO", "reason": "thread spinning",
		}, metaCandidates, ResolveOpts{})
		require.NoError(t, err)
		assert.Equal(t, MetaCommandID, id)
	})

	t.Run("no discriminator is ambiguous", func(t *testing.T) {
		_, err := ResolveEmitted(ecosystem.NodeMeta, map[string]any{"confidence": 0.4}, metaCandidates, ResolveOpts{})
		var ra *fhierr.RoutingAmbiguityError
		require.ErrorAs(t, err, &ra)
		assert.Empty(t, ra.Discriminators)
	})

	t.Run("both discriminators is ambiguous", func(t *testing.T) {
		_, err := ResolveEmitted(ecosystem.NodeMeta, map[string]any{
			"assessment": "healthy", "action": "THROTTLE",
		}, metaCandidates, ResolveOpts{})
		var ra *fhierr.RoutingAmbiguityError
		require.ErrorAs(t, err, &ra)
		assert.ElementsMatch(t, []string{"assessment", "action"}, ra.Discriminators)
	})

	t.Run("arbitration forces ruling", func(t *testing.T) {
		id, err := ResolveEmitted(ecosystem.NodeArbiter, map[string]any{"deferral": "not enough yet"},
			[]string{ArbiterRulingID, ArbiterDeferralID}, ResolveOpts{Arbitration: true})
		require.NoError(t, err)
		assert.Equal(t, ArbiterRulingID, id)
	})

	t.Run("remediation forces command", func(t *testing.T) {
		id, err := ResolveEmitted(ecosystem.NodeMeta, map[string]any{"assessment": "fine"},
			metaCandidates, ResolveOpts{Remediation: true})
		require.NoError(t, err)
		assert.Equal(t, MetaCommandID, id)
	})

	t.Run("forcing is node scoped", func(t *testing.T) {
		id, err := ResolveEmitted(ecosystem.NodePhi, map[string]any{"inquiry": "what grounds this?"},
			[]string{PhiReflectionID, PhiInquiryID}, ResolveOpts{Arbitration: true, Remediation: true})
		require.NoError(t, err)
		assert.Equal(t, PhiInquiryID, id)
	})
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/process"
)

func recordAt(s State, interstate bool) *process.Record {
	return &process.Record{Protocol: "TJPA-DIA-2026-0001", Destination: s.Destination, Status: s.Status, Interstate: interstate}
}

func TestTransitionTableIsConsistent(t *testing.T) {
	assert.True(t, ValidState(Initial))
	for _, rule := range Transitions {
		assert.False(t, rule.From.Status.IsTerminal(), "rule %s leaves terminal state %s", rule.Action, rule.From)
		assert.NotEmpty(t, rule.Note, "rule %s from %s has no note", rule.Action, rule.From)
	}

	// an unguarded rule must be the last one for its (action, from) pair
	type key struct {
		a Action
		f State
	}
	closed := map[key]bool{}
	for _, rule := range Transitions {
		k := key{rule.Action, rule.From}
		require.False(t, closed[k], "rule %s from %s is unreachable", rule.Action, rule.From)
		if rule.When == nil {
			closed[k] = true
		}
	}
}

func TestEveryNonTerminalStateHasAWayOut(t *testing.T) {
	for _, s := range States() {
		if s.Status.IsTerminal() {
			continue
		}
		assert.NotEmpty(t, AllowedActions(recordAt(s, false)), "state %s is a dead end", s)
	}
}

func TestNextSignIsDeterministic(t *testing.T) {
	tests := []struct {
		name       string
		from       State
		interstate bool
		want       State
	}{
		{"pre-execution", sefinAguardaSF, false, sosfuAprovado},
		{"pre-execution interstate", sefinAguardaSF, true, sosfuAprovado},
		{"ordenador interstate", sefinAguarda, true, presidencia},
		{"ordenador intrastate", sefinAguarda, false, sefinAprovado},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				rule, err := Next(recordAt(tt.from, tt.interstate), ActionSign)
				require.NoError(t, err)
				assert.Equal(t, tt.want, rule.To)
			}
		})
	}
}

func TestNextReturnForAdjustmentDependsOnWhoReturns(t *testing.T) {
	tests := []struct {
		from State
		want process.Status
	}{
		{ajsefinAnalise, process.StatusDevolvidoAJSEFIN},
		{sefinParecer, process.StatusDevolvidoSEFIN},
		{sefinAguardaSF, process.StatusDevolvidoSEFIN},
		{sefinAguarda, process.StatusDevolvidoOrdenador},
	}
	for _, tt := range tests {
		rule, err := Next(recordAt(tt.from, false), ActionReturnForAdjustment)
		require.NoError(t, err, tt.from.String())
		assert.Equal(t, process.DestSOSFU, rule.To.Destination)
		assert.Equal(t, tt.want, rule.To.Status)
	}
}

func TestNextRejectsUnknownSource(t *testing.T) {
	_, err := Next(recordAt(sodpaEnviado, false), ActionSign)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	_, err = Next(recordAt(sosfuConcluido, false), ActionConclude)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestAllowedActions(t *testing.T) {
	assert.Equal(t,
		[]Action{ActionStartReview, ActionForwardToLegalReview, ActionReject, ActionCancel},
		AllowedActions(recordAt(sodpaEnviado, false)))
	assert.Empty(t, AllowedActions(recordAt(sosfuConcluido, false)))
}

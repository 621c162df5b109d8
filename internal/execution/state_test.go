package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farxc/tramitacao/internal/apperr"
)

func TestStateIsLinear(t *testing.T) {
	st := NewState("r1")
	assert.Equal(t, StepPortaria, st.CurrentStep)
	assert.False(t, st.Reachable(StepCertidao))

	err := st.requireReachable(StepNE)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindPrerequisitesNotMet, appErr.Kind)
	assert.Equal(t, []string{"PORTARIA", "CERTIDAO"}, appErr.Missing)

	st.complete(StepPortaria)
	assert.Equal(t, StepCertidao, st.CurrentStep)
	assert.True(t, st.Reachable(StepCertidao))

	// redoing a finished step does not move the cursor
	st.complete(StepPortaria)
	assert.Equal(t, StepCertidao, st.CurrentStep)
	assert.Equal(t, []Step{StepPortaria}, st.Completed)
}

func TestSkip(t *testing.T) {
	st := NewState("r1")

	err := st.Skip(StepCertidao)
	assert.True(t, apperr.Is(err, apperr.KindValidation), "only the current step can be skipped")

	require.NoError(t, st.Skip(StepPortaria))
	assert.Equal(t, StepCertidao, st.CurrentStep)
	assert.True(t, st.IsSkipped(StepPortaria))

	// a skipped step can still be done later
	st.complete(StepPortaria)
	assert.False(t, st.IsSkipped(StepPortaria))
	assert.True(t, st.IsCompleted(StepPortaria))
	assert.Equal(t, StepCertidao, st.CurrentStep)

	for _, s := range []Step{StepCertidao, StepNE, StepDL, StepOB} {
		require.NoError(t, st.Skip(s))
	}
	assert.Equal(t, StepTramitar, st.CurrentStep)
	assert.True(t, apperr.Is(st.Skip(StepTramitar), apperr.KindValidation))
	assert.True(t, apperr.Is(st.Skip("ASSINATURA"), apperr.KindValidation))
}

func TestMissingPrerequisites(t *testing.T) {
	st := NewState("r1")
	assert.Equal(t, Required, st.MissingPrerequisites())

	st.complete(StepPortaria)
	require.NoError(t, st.Skip(StepCertidao))
	st.complete(StepNE)
	assert.Equal(t, []Step{StepCertidao}, st.MissingPrerequisites())

	st.complete(StepCertidao)
	assert.Empty(t, st.MissingPrerequisites())
	assert.Equal(t, []Step{StepPortaria, StepCertidao, StepNE}, st.CompletedDocuments())

	now := time.Now()
	st.MarkTramitado(now)
	assert.True(t, st.IsCompleted(StepTramitar))
	assert.NotContains(t, st.CompletedDocuments(), StepTramitar)
	require.NotNil(t, st.TramitadoAt)
}

func TestReconcile(t *testing.T) {
	st := NewState("r1")
	st.NE = &FinancialDocument{Numero: "NE1", Valor: decimal.RequireFromString("1500.00")}

	assert.Nil(t, Reconcile(st, StepNE, decimal.NewFromInt(1)))
	assert.Nil(t, Reconcile(st, StepDL, decimal.RequireFromString("1500")))
	// nothing to compare against yet
	assert.Nil(t, Reconcile(st, StepOB, decimal.NewFromInt(9)))

	m := Reconcile(st, StepDL, decimal.RequireFromString("1400"))
	require.NotNil(t, m)
	assert.Equal(t, SeverityWarning, m.Severity)
	assert.Equal(t, StepNE, m.Against)
	assert.True(t, m.Expected.Equal(decimal.NewFromInt(1500)))

	st.DL = &FinancialDocument{Numero: "DL1", Valor: decimal.RequireFromString("1400")}
	m = Reconcile(st, StepOB, decimal.RequireFromString("1500"))
	require.NotNil(t, m)
	assert.Equal(t, SeverityError, m.Severity)
	assert.Equal(t, StepDL, m.Against)
	assert.Contains(t, m.Message, "OB")
}

func TestFormatPortariaNumber(t *testing.T) {
	assert.Equal(t, "7/2026-SF", FormatPortariaNumber(7, 2026))
}

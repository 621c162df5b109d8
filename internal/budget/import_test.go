package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestReadItemsCSV(t *testing.T) {
	csv := "PTRES;Elemento de Despesa;Dotação;Valor Alocado;Valor Empenhado\n" +
		"8193;3.3.90.14;0170;1.500.000,00;10,50\n" +
		"8193;3.3.90.33;0171;250.000,00;\n" +
		"8727;3.3.90.14;0300;R$ 99,99;0\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(csv)
	require.NoError(t, err)

	allocs, err := ReadItemsCSV(strings.NewReader(encoded))
	require.NoError(t, err)
	require.Len(t, allocs, 2)

	assert.Equal(t, Ptres8193, allocs[0].PtresCode)
	require.Len(t, allocs[0].Items, 2)
	first := allocs[0].Items[0]
	assert.Equal(t, "0170", first.DotacaoCode, "codes keep leading zeros")
	assert.True(t, first.AllocatedValue.Equal(d("1500000")))
	assert.True(t, first.CommittedValue.Equal(d("10.5")))
	assert.True(t, first.IsActive)
	assert.True(t, allocs[0].Items[1].CommittedValue.IsZero())

	assert.True(t, allocs[1].Items[0].AllocatedValue.Equal(d("99.99")))
}

func TestReadItemsCSV_MissingColumn(t *testing.T) {
	_, err := ReadItemsCSV(strings.NewReader("PTRES;Valor Alocado\n8193;10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Elemento de Despesa")
}

func TestParseBRL(t *testing.T) {
	v, err := ParseBRL("1.234.567,89")
	require.NoError(t, err)
	assert.True(t, v.Equal(d("1234567.89")))

	v, err = ParseBRL("6500000.00")
	require.NoError(t, err)
	assert.True(t, v.Equal(d("6500000")))

	_, err = ParseBRL("abc")
	assert.Error(t, err)
}

func TestParsePlan(t *testing.T) {
	data := []byte(`
year: 2026
total_budget: "6.000.000,00"
allocations:
  - ptres: "8193"
    items:
      - element: "3.3.90.14"
        dotacao: "170"
        allocated: "6500000.00"
`)
	cfg, err := ParsePlan(data)
	require.NoError(t, err)
	assert.Equal(t, 2026, cfg.Year)
	assert.True(t, cfg.TotalBudget.Equal(d("6000000")))
	require.Len(t, cfg.Allocations, 1)
	assert.True(t, cfg.Allocations[0].Items[0].IsActive)

	assert.True(t, CalculateBudgetValues(*cfg).IsOverBudget)
}

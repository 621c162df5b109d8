package process

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farxc/tramitacao/internal/apperr"
)

func validRequest(t RequestType) NewRequest {
	return NewRequest{
		Type:      t,
		Requester: Requester{Name: "Maria Souza", Registration: "12345", Department: "Vara Criminal de Marabá"},
		Trip: Trip{
			City:          "Belém",
			State:         "pa",
			DepartureDate: time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
			ReturnDate:    time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
			Purpose:       "Correição ordinária",
		},
		Value: decimal.RequireFromString("1250.456"),
	}
}

func TestCreateDiaria(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	rec, err := Create(validRequest(TypeDiaria), 7, now)
	require.NoError(t, err)

	assert.Equal(t, StatusEnviado, rec.Status)
	assert.Equal(t, DestSODPA, rec.Destination)
	assert.Regexp(t, regexp.MustCompile(`^TJPA-DIA-\d{4}-\d+$`), rec.Protocol)
	assert.Equal(t, "TJPA-DIA-2026-0007", rec.Protocol)
	assert.True(t, ValidProtocol(rec.Protocol))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Interstate)
	assert.Equal(t, "PA", rec.State)
	assert.True(t, rec.Value.Equal(decimal.RequireFromString("1250.46")))
}

func TestCreateInterstate(t *testing.T) {
	req := validRequest(TypePassagem)
	req.Trip.City, req.Trip.State = "Brasília", "DF"
	rec, err := Create(req, 1, time.Now())
	require.NoError(t, err)
	assert.True(t, rec.Interstate)
	assert.Contains(t, rec.Protocol, "TJPA-PAS-")
}

func TestCreateValidation(t *testing.T) {
	req := validRequest(TypeMista)
	req.Requester.Name = ""
	req.Trip.DepartureDate = time.Time{}

	_, err := Create(req, 1, time.Now())
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.ElementsMatch(t, []string{"nome do solicitante", "data de ida"}, appErr.Missing)

	req = validRequest(TypeDiaria)
	req.Trip.ReturnDate = req.Trip.DepartureDate.AddDate(0, 0, -1)
	_, err = Create(req, 1, time.Now())
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	req = validRequest("HOSPEDAGEM")
	_, err = Create(req, 1, time.Now())
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateExecutionField(t *testing.T) {
	rec, err := Create(validRequest(TypeDiaria), 1, time.Now())
	require.NoError(t, err)

	updated, err := UpdateExecutionField(rec, "ne_valor", "1500.00")
	require.NoError(t, err)
	assert.True(t, updated.NEValor.Valid)
	assert.False(t, rec.NEValor.Valid, "original record must not change")

	updated, err = UpdateExecutionField(updated, "ob_numero", " 2026OB00042 ")
	require.NoError(t, err)
	assert.Equal(t, "2026OB00042", updated.OBNumero)

	for _, field := range []string{"status", "destino_atual", "legal_opinion"} {
		_, err = UpdateExecutionField(rec, field, "APROVADO")
		assert.True(t, apperr.Is(err, apperr.KindValidation), field)
	}

	_, err = UpdateExecutionField(rec, "dl_valor", "-3")
	assert.True(t, apperr.Is(err, apperr.KindInvalidValue))

	rec.Status = StatusConcluido
	_, err = UpdateExecutionField(rec, "ne_numero", "x")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestDotacoes(t *testing.T) {
	assert.Equal(t, "170;171", JoinDotacoes([]string{"170", "171"}))
	assert.Equal(t, []string{"170", "171"}, SplitDotacoes(" 170 ; ;171"))
	assert.Nil(t, SplitDotacoes(""))
}

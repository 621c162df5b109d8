package process

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
)

// HomeState is the UF of the court; trips elsewhere need Presidency approval.
const HomeState = "PA"

type NewRequest struct {
	Type      RequestType     `json:"type"`
	Requester Requester       `json:"requester"`
	Trip      Trip            `json:"trip"`
	Value     decimal.Decimal `json:"value"`
}

// Create builds a new record in SODPA/ENVIADO. seq is the next protocol
// sequence for the type prefix and year of now.
func Create(req NewRequest, seq int64, now time.Time) (*Record, error) {
	var missing []string
	if !req.Type.Valid() {
		missing = append(missing, "tipo da solicitação")
	}
	if strings.TrimSpace(req.Requester.Name) == "" {
		missing = append(missing, "nome do solicitante")
	}
	if strings.TrimSpace(req.Requester.Registration) == "" {
		missing = append(missing, "matrícula do solicitante")
	}
	if strings.TrimSpace(req.Trip.City) == "" {
		missing = append(missing, "cidade de destino")
	}
	if strings.TrimSpace(req.Trip.State) == "" {
		missing = append(missing, "UF de destino")
	}
	if req.Trip.DepartureDate.IsZero() {
		missing = append(missing, "data de ida")
	}
	if req.Trip.ReturnDate.IsZero() {
		missing = append(missing, "data de retorno")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("preencha os campos obrigatórios da solicitação").WithMissing(missing...)
	}
	if req.Trip.ReturnDate.Before(req.Trip.DepartureDate) {
		return nil, apperr.Validation("a data de retorno (%s) é anterior à data de ida (%s)",
			req.Trip.ReturnDate.Format("02/01/2006"), req.Trip.DepartureDate.Format("02/01/2006"))
	}
	if req.Value.IsNegative() {
		return nil, apperr.New(apperr.KindInvalidValue, "Valor inválido", "o valor solicitado não pode ser negativo")
	}
	if seq <= 0 {
		return nil, fmt.Errorf("invalid protocol sequence %d", seq)
	}

	trip := req.Trip
	trip.State = strings.ToUpper(strings.TrimSpace(trip.State))

	return &Record{
		ID:          uuid.NewString(),
		Protocol:    FormatProtocol(req.Type, now.Year(), seq),
		Type:        req.Type,
		Status:      StatusEnviado,
		Destination: DestSODPA,
		Value:       req.Value.Round(2),
		Interstate:  trip.State != HomeState,
		Requester:   req.Requester,
		Trip:        trip,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func FormatProtocol(t RequestType, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", t.ProtocolPrefix(), year, seq)
}

var protocolPattern = regexp.MustCompile(`^TJPA-(PAS|DIA|MIS)-\d{4}-\d+$`)

func ValidProtocol(p string) bool {
	return protocolPattern.MatchString(p)
}

type fieldSetter func(r *Record, value string) error

func setString(dst func(*Record) *string) fieldSetter {
	return func(r *Record, value string) error {
		*dst(r) = strings.TrimSpace(value)
		return nil
	}
}

func setMoney(dst func(*Record) *decimal.NullDecimal) fieldSetter {
	return func(r *Record, value string) error {
		value = strings.TrimSpace(value)
		if value == "" {
			*dst(r) = decimal.NullDecimal{}
			return nil
		}
		v, err := decimal.NewFromString(value)
		if err != nil || v.IsNegative() {
			return apperr.New(apperr.KindInvalidValue, "Valor inválido", "%q não é um valor monetário válido", value)
		}
		*dst(r) = decimal.NewNullDecimal(v.Round(2))
		return nil
	}
}

// executionFields is the whitelist of fields writable outside a transition.
var executionFields = map[string]fieldSetter{
	"ptres_code":         setString(func(r *Record) *string { return &r.PtresCode }),
	"dotacao_code":       setString(func(r *Record) *string { return &r.DotacaoCode }),
	"ne_numero":          setString(func(r *Record) *string { return &r.NENumero }),
	"ne_valor":           setMoney(func(r *Record) *decimal.NullDecimal { return &r.NEValor }),
	"dl_numero":          setString(func(r *Record) *string { return &r.DLNumero }),
	"dl_valor":           setMoney(func(r *Record) *decimal.NullDecimal { return &r.DLValor }),
	"ob_numero":          setString(func(r *Record) *string { return &r.OBNumero }),
	"ob_valor":           setMoney(func(r *Record) *decimal.NullDecimal { return &r.OBValor }),
	"portaria_sf_numero": setString(func(r *Record) *string { return &r.PortariaSFNumero }),
}

// ExecutionFields lists the writable execution fields in name order.
func ExecutionFields() []string {
	names := make([]string, 0, len(executionFields))
	for k := range executionFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UpdateExecutionField returns a copy of r with one whitelisted execution
// field changed. Routing fields are only changed by transitions.
func UpdateExecutionField(r *Record, field, value string) (*Record, error) {
	switch field {
	case "status", "destino_atual":
		return nil, apperr.Validation("o campo %s só pode ser alterado por tramitação", field)
	}
	set, ok := executionFields[field]
	if !ok {
		return nil, apperr.Validation("o campo %s não pode ser alterado", field).WithMissing(ExecutionFields()...)
	}
	if r.Status.IsTerminal() {
		return nil, apperr.InvalidTransition("o processo %s está encerrado (%s)", r.Protocol, r.Status)
	}
	out := r.Clone()
	if err := set(out, value); err != nil {
		return nil, err
	}
	return out, nil
}

// JoinDotacoes stores several budget line numbers in the single dotacao_code column.
func JoinDotacoes(codes []string) string {
	return strings.Join(codes, ";")
}

func SplitDotacoes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

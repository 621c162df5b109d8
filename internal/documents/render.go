package documents

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/budget"
)

type PortariaData struct {
	Numero        string
	Protocol      string
	RequesterName string
	Registration  string
	Department    string
	City          string
	State         string
	DepartureDate time.Time
	ReturnDate    time.Time
	Purpose       string
	PtresCode     string
	Dotacoes      []string
	Value         decimal.Decimal
	IssuedAt      time.Time
}

type CertidaoData struct {
	Protocol      string
	RequesterName string
	Registration  string
	IssuedAt      time.Time
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format("02/01/2006") },
	"brl":  budget.FormatBRL,
	"join": strings.Join,
}

var portariaTmpl = template.Must(template.New("portaria").Funcs(funcs).Parse(`PORTARIA Nº {{.Numero}}

O SECRETÁRIO DE FINANÇAS, no uso de suas atribuições, RESOLVE:

Art. 1º Conceder a {{.RequesterName}}, matrícula {{.Registration}}{{if .Department}}, lotado(a) em {{.Department}}{{end}},
o pagamento referente ao deslocamento para {{.City}}/{{.State}} no período de
{{date .DepartureDate}} a {{date .ReturnDate}}, com a finalidade de {{.Purpose}}.

Art. 2º A despesa, no valor de {{brl .Value}}, correrá à conta do PTRES {{.PtresCode}},
dotação(ões) {{join .Dotacoes ", "}}.

Processo: {{.Protocol}}
Belém, {{date .IssuedAt}}.
`))

var certidaoTmpl = template.Must(template.New("certidao").Funcs(funcs).Parse(`CERTIDÃO DE REGULARIDADE

Certifico, para os devidos fins, que {{.RequesterName}}, matrícula {{.Registration}},
não possui pendências de prestação de contas junto a este Tribunal.

Processo: {{.Protocol}}
Belém, {{date .IssuedAt}}.
`))

func RenderPortaria(d PortariaData) ([]byte, error) {
	return render(portariaTmpl, d)
}

func RenderCertidao(d CertidaoData) ([]byte, error) {
	return render(certidaoTmpl, d)
}

func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}

package budget

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"
)

// Column headers of the budget spreadsheet exported by the finance system.
const (
	colPtres     = "PTRES"
	colElement   = "Elemento de Despesa"
	colDotacao   = "Dotação"
	colAllocated = "Valor Alocado"
	colCommitted = "Valor Empenhado"
)

// ReadItemsCSV parses the semicolon separated, Windows-1252 encoded budget
// spreadsheet into allocations grouped by PTRES, in order of first
// appearance. Every imported item is active.
func ReadItemsCSV(r io.Reader) ([]PtresAllocation, error) {
	decoded := charmap.Windows1252.NewDecoder().Reader(r)
	df := dataframe.ReadCSV(decoded,
		dataframe.WithDelimiter(';'),
		dataframe.WithLazyQuotes(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("failed to read budget spreadsheet: %w", df.Err)
	}
	if df.Nrow() == 0 {
		return nil, fmt.Errorf("dataframe is empty")
	}
	for _, col := range []string{colPtres, colElement, colDotacao, colAllocated} {
		if !containsString(df.Names(), col) {
			return nil, fmt.Errorf("budget spreadsheet is missing column %q", col)
		}
	}

	var allocations []PtresAllocation
	index := map[PtresCode]int{}
	for row := 0; row < df.Nrow(); row++ {
		ptres := PtresCode(getStr(colPtres, row, &df))
		allocated, err := ParseBRL(getStr(colAllocated, row, &df))
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", row+2, colAllocated, err)
		}
		committed, err := ParseBRL(getStr(colCommitted, row, &df))
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", row+2, colCommitted, err)
		}

		item := DotacaoItem{
			PtresCode:      ptres,
			ElementCode:    getStr(colElement, row, &df),
			DotacaoCode:    getStr(colDotacao, row, &df),
			AllocatedValue: allocated,
			CommittedValue: committed,
			IsActive:       true,
		}

		i, ok := index[ptres]
		if !ok {
			i = len(allocations)
			index[ptres] = i
			allocations = append(allocations, PtresAllocation{PtresCode: ptres})
		}
		allocations[i].Items = append(allocations[i].Items, item)
	}
	return allocations, nil
}

func containsString(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

func getStr(col string, rowIdx int, df *dataframe.DataFrame) string {
	if !containsString(df.Names(), col) {
		return ""
	}
	val := strings.TrimSpace(df.Col(col).Elem(rowIdx).String())
	if val == "NaN" {
		return ""
	}
	return val
}

// ParseBRL accepts "1.234.567,89", "R$ 1.234,50" and plain "1234.50".
// Empty input is zero.
func ParseBRL(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d.Round(2), nil
}

type planFile struct {
	Year        int    `yaml:"year"`
	TotalBudget string `yaml:"total_budget"`
	Allocations []struct {
		Ptres string `yaml:"ptres"`
		Items []struct {
			Element   string `yaml:"element"`
			Dotacao   string `yaml:"dotacao"`
			Allocated string `yaml:"allocated"`
			Committed string `yaml:"committed"`
		} `yaml:"items"`
	} `yaml:"allocations"`
}

// ParsePlan decodes a YAML budget plan.
func ParsePlan(data []byte) (*PlanConfig, error) {
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode budget plan: %w", err)
	}
	total, err := ParseBRL(pf.TotalBudget)
	if err != nil {
		return nil, fmt.Errorf("total_budget: %w", err)
	}

	cfg := &PlanConfig{Year: pf.Year, TotalBudget: total}
	for _, a := range pf.Allocations {
		alloc := PtresAllocation{PtresCode: PtresCode(a.Ptres)}
		for _, it := range a.Items {
			allocated, err := ParseBRL(it.Allocated)
			if err != nil {
				return nil, fmt.Errorf("ptres %s dotacao %s: %w", a.Ptres, it.Dotacao, err)
			}
			committed, err := ParseBRL(it.Committed)
			if err != nil {
				return nil, fmt.Errorf("ptres %s dotacao %s: %w", a.Ptres, it.Dotacao, err)
			}
			alloc.Items = append(alloc.Items, DotacaoItem{
				PlanYear:       pf.Year,
				PtresCode:      alloc.PtresCode,
				ElementCode:    it.Element,
				DotacaoCode:    it.Dotacao,
				AllocatedValue: allocated,
				CommittedValue: committed,
				IsActive:       true,
			})
		}
		cfg.Allocations = append(cfg.Allocations, alloc)
	}
	return cfg, nil
}

func LoadPlanFile(path string) (*PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %v", path, err)
	}
	return ParsePlan(data)
}

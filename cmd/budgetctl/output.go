package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/farxc/tramitacao/internal/budget"
)

func printOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		return printJSON(w, v)
	case "yaml":
		return printYAML(w, v)
	default:
		return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", format)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	// Convert through JSON to get consistent keys (json tags).
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

type planReport struct {
	Year     int                   `json:"year"`
	Total    string                `json:"total_budget"`
	Computed budget.ComputedValues `json:"computed"`
	Issues   []string              `json:"issues,omitempty"`
}

func printPlanReport(w io.Writer, format string, rep planReport) error {
	if format == "json" || format == "yaml" {
		return printOutput(w, format, rep)
	}

	rows := make([][]string, 0, len(rep.Computed.Ptres))
	for _, p := range rep.Computed.Ptres {
		rows = append(rows, []string{
			string(p.PtresCode),
			budget.FormatBRL(p.Total),
			budget.FormatBRL(p.Committed),
			p.PercentageOfGlobal.StringFixed(2) + "%",
			fmt.Sprint(p.ItemCount),
		})
	}
	fmt.Fprintf(w, "Plano %d - orçamento global %s\n", rep.Year, rep.Total)
	printTable(w, []string{"PTRES", "Distribuído", "Empenhado", "% global", "Itens"}, rows)
	fmt.Fprintf(w, "Distribuído: %s  Restante: %s  Utilizado: %s%%\n",
		budget.FormatBRL(rep.Computed.TotalDistributed),
		budget.FormatBRL(rep.Computed.Remaining),
		rep.Computed.PercentageUsed.StringFixed(2))
	if rep.Computed.IsOverBudget {
		fmt.Fprintln(w, "ATENÇÃO: o total distribuído excede o orçamento global")
	}
	for _, issue := range rep.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/jguan/picturebook/pkg/apperr"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{Format: OutputTable, Writer: os.Stdout}
}

// table pairs a result with its terminal layout. JSON and YAML output
// render value, so scripts see the same shape as the HTTP API.
type table struct {
	value  any
	header []string
	rows   [][]string
	// empty is printed instead of a header with no rows.
	empty string
}

func (t table) MarshalJSON() ([]byte, error) { return json.Marshal(t.value) }
func (t table) MarshalYAML() (any, error)    { return t.value, nil }

func (t table) render() string {
	if len(t.rows) == 0 {
		if t.empty == "" {
			return ""
		}
		return t.empty + "\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	if len(t.header) > 0 {
		fmt.Fprintln(w, strings.Join(t.header, "\t"))
	}
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return sb.String()
}

// keyValueTable lists m sorted by key.
func keyValueTable[V any](m map[string]V) table {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(m[k])})
	}
	return table{value: m, rows: rows}
}

// FormatOutput renders data; unknown formats fall back to table.
func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode JSON: %w", err)
		}
		return string(b) + "\n", nil
	case OutputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("encode YAML: %w", err)
		}
		return string(b), nil
	}

	switch v := data.(type) {
	case nil:
		return "", nil
	case table:
		return v.render(), nil
	case map[string]any:
		return keyValueTable(v).render(), nil
	case map[string]string:
		return keyValueTable(v).render(), nil
	default:
		return fmt.Sprintln(v), nil
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}
	out, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}
	_, err = io.WriteString(opts.Writer, out)
	return err
}

// printText prints model output as-is in table mode, where multi-line text
// would not fit a table, and as {key: text} otherwise.
func printText(opts *OutputOptions, key, text string) error {
	if opts.Format == OutputJSON || opts.Format == OutputYAML {
		return PrintOutput(map[string]string{key: text}, opts)
	}
	if opts.Quiet {
		return nil
	}
	_, err := fmt.Fprintln(opts.Writer, text)
	return err
}

type cliError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

type errorEnvelope struct {
	Success bool     `json:"success" yaml:"success"`
	Error   cliError `json:"error" yaml:"error"`
}

// PrintError writes err to stderr in the selected format.
func PrintError(err error, opts *OutputOptions) {
	printError(os.Stderr, err, opts.Format)
}

func printError(w io.Writer, err error, format OutputFormat) {
	if format != OutputJSON && format != OutputYAML {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	body := errorEnvelope{Error: cliError{Code: apperr.CodeOf(err), Message: err.Error()}}
	out, ferr := FormatOutput(body, format)
	if ferr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprint(w, out)
}

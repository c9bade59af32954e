package xlfmla

import (
	"io"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// workbookYAML is the document layout read by LoadWorkbookYAML:
//
//	names:
//	  Rate: Sheet1!$B$1
//	sheets:
//	  - name: Sheet1
//	    cells:
//	      A1: 3
//	      A2: =A1*Rate
//	    shared:
//	      C1:C5: =A1*2
type workbookYAML struct {
	Names  map[string]string `yaml:"names"`
	Sheets []struct {
		Name   string                 `yaml:"name"`
		Cells  map[string]interface{} `yaml:"cells"`
		Shared map[string]string      `yaml:"shared"`
	} `yaml:"sheets"`
}

// LoadWorkbookYAML builds a Book from YAML. Cell values are numbers,
// booleans, strings, error literals such as "#N/A" or formulas starting
// with "=". A leading apostrophe keeps a string literal.
func LoadWorkbookYAML(r io.Reader, opts *Options) (*Book, error) {
	var doc workbookYAML
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, xerrors.Errorf("workbook: %w", err)
	}
	b := NewBook(opts)
	for _, sh := range doc.Sheets {
		if _, err := b.AddSheet(sh.Name); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(doc.Names) {
		if err := b.AddName(name, doc.Names[name]); err != nil {
			return nil, err
		}
	}

	type pending struct {
		sheet    string
		row, col int
		text     string
	}
	var formulas []pending
	for _, sh := range doc.Sheets {
		addrs := make([]string, 0, len(sh.Cells))
		for a := range sh.Cells {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			row, col, err := A1(addr)
			if err != nil {
				return nil, xerrors.Errorf("sheet %s: %w", sh.Name, err)
			}
			raw := sh.Cells[addr]
			if s, ok := raw.(string); ok && strings.HasPrefix(s, "=") {
				formulas = append(formulas, pending{sh.Name, row, col, s})
				continue
			}
			v, err := yamlValue(raw)
			if err != nil {
				return nil, xerrors.Errorf("%s!%s: %w", sh.Name, addr, err)
			}
			if err := b.SetValue(sh.Name, row, col, v); err != nil {
				return nil, err
			}
		}
		for _, area := range sortedKeys(sh.Shared) {
			if err := b.SetSharedFormula(sh.Name, area, sh.Shared[area]); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range formulas {
		if err := b.SetFormula(f.sheet, f.row, f.col, f.text); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func yamlValue(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case int:
		return Number(t), nil
	case float64:
		return Number(t), nil
	case bool:
		return Boolean(t), nil
	case string:
		if strings.HasPrefix(t, "'") {
			return Text(t[1:]), nil
		}
		if code, ok := ParseErrorCode(t); ok {
			return code, nil
		}
		return Text(t), nil
	}
	return nil, xerrors.Errorf("unsupported cell value %v", raw)
}

package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/peterh/liner"
	"gopkg.in/yaml.v3"

	"github.com/yamitzky/xlfmla-go/xlfmla"
)

const (
	defaultSheetDelimiter = "--------"
	defaultSheet          = "Sheet1"
	historyFile           = ".xlfmla_history"
)

var version = "dev"

type quotingMode int

const (
	quotingNone quotingMode = iota
	quotingMinimal
	quotingNonNumeric
	quotingAll
)

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// config is the optional YAML file given with -config.
type config struct {
	Verbosity int    `yaml:"verbosity"`
	MaxDepth  int    `yaml:"max_depth"`
	Datemode  int    `yaml:"datemode"`
	Locale    string `yaml:"locale"`
	Workers   int    `yaml:"workers"`
}

type csvWriter struct {
	w              io.Writer
	delimiter      rune
	lineTerminator string
	quoting        quotingMode
}

type field struct {
	text      string
	isNumeric bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xlfmla", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("v", false, "show version")
	fs.BoolVar(showVersion, "version", false, "show version")
	configPath := fs.String("config", "", "YAML configuration file")
	verbosity := fs.Int("verbosity", 0, "trace level written to stderr")
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText())
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg := config{}
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if *verbosity > 0 {
		cfg.Verbosity = *verbosity
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fs.Usage()
		return 2
	}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "parse":
		return cmdParse(cmdArgs, cfg, stdout, stderr)
	case "decode":
		return cmdDecode(cmdArgs, cfg, stdout, stderr)
	case "eval":
		return cmdEval(cmdArgs, cfg, stdout, stderr)
	case "recalc":
		return cmdRecalc(cmdArgs, cfg, stdin, stdout, stderr)
	case "records":
		return cmdRecords(cmdArgs, stdout, stderr)
	case "repl":
		return cmdRepl(cfg, stdout, stderr)
	}
	fmt.Fprintf(stderr, "unknown command %q\n", cmd)
	fs.Usage()
	return 2
}

func usageText() string {
	return `Usage:

 xlfmla [-v] [-config FILE] [-verbosity N] COMMAND [ARGS]

commands:

  parse [-locale LOCALE] [-name] [-sheet NAME ...] FORMULA
                        print the tokens of a formula and their BIFF8 bytes
  decode [-dump] [-len N] [-sheet NAME ...] HEX
                        render a BIFF8 token array as formula text
  eval [-locale LOCALE] [-at CELL] [-set CELL=VALUE ...] FORMULA
                        evaluate a formula on Sheet1
  recalc [-workers N] [-d DELIMITER] [-q QUOTING] [-p SHEETDELIMITER] FILE
                        recalculate a YAML or xls workbook and print its
                        sheets as CSV; use '-' to read from STDIN
  records [-count] [-u] FILE.xls
                        dump the BIFF records of a workbook; -count prints
                        record counts, -u omits offsets
  repl                  evaluate formulas interactively; ':set A1=VALUE'
                        stores a cell, ':quit' exits
`
}

func loadConfig(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func options(cfg config, locale string, stderr io.Writer) (*xlfmla.Options, error) {
	opts := &xlfmla.Options{
		Logfile:   stderr,
		Verbosity: cfg.Verbosity,
		MaxDepth:  cfg.MaxDepth,
		Datemode:  cfg.Datemode,
	}
	if locale == "" {
		locale = cfg.Locale
	}
	if locale != "" && locale != "en" {
		loc, err := xlfmla.LocaleByName(locale)
		if err != nil {
			return nil, err
		}
		opts.Locale = loc
	}
	return opts, nil
}

// newBook returns a book holding Sheet1 and any extra sheets.
func newBook(opts *xlfmla.Options, sheets []string) (*xlfmla.Book, error) {
	book := xlfmla.NewBook(opts)
	if _, err := book.AddSheet(defaultSheet); err != nil {
		return nil, err
	}
	for _, name := range sheets {
		if _, err := book.AddSheet(name); err != nil {
			return nil, err
		}
	}
	return book, nil
}

func cmdParse(args []string, cfg config, stdout, stderr io.Writer) int {
	var sheets stringList
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	locale := fs.String("locale", "", "formula language")
	asName := fs.Bool("name", false, "parse as a defined name formula")
	fs.Var(&sheets, "sheet", "declare an extra sheet")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "parse needs one formula")
		return 2
	}
	opts, err := options(cfg, *locale, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	book, err := newBook(opts, sheets)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	parser := xlfmla.NewParser(opts)
	parse := parser.Parse
	if *asName {
		parse = parser.ParseName
	}
	ptgs, err := parse(fs.Arg(0), book.At(defaultSheet, 0, 0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	data, err := xlfmla.EncodeTokens(ptgs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, p := range ptgs {
		fmt.Fprintln(stdout, p)
	}
	fmt.Fprintf(stdout, "len: %d\n", xlfmla.TokenArrayLen(ptgs))
	fmt.Fprintf(stdout, "hex: %s\n", hex.EncodeToString(data))
	return 0
}

func cmdDecode(args []string, cfg config, stdout, stderr io.Writer) int {
	var sheets stringList
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dump := fs.Bool("dump", false, "dump each token")
	declared := fs.Int("len", -1, "token array length; the rest is array data")
	fs.Var(&sheets, "sheet", "declare an extra sheet")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "decode needs one hex string")
		return 2
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(fs.Arg(0)), ""))
	if err != nil {
		fmt.Fprintf(stderr, "invalid hex: %v\n", err)
		return 2
	}
	if *declared < 0 {
		*declared = len(data)
	}
	opts, err := options(cfg, "", stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	book, err := newBook(opts, sheets)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	codec := &xlfmla.Codec{Format: xlfmla.BIFF8, Logfile: stderr, Verbosity: cfg.Verbosity}
	ptgs, _, err := codec.Decode(data, *declared)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	text, err := xlfmla.NewRenderer(opts).Render(ptgs, book.At(defaultSheet, 0, 0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "=%s\n", text)
	if *dump {
		xlfmla.DumpTokens(stdout, ptgs)
	}
	return 0
}

// parseLiteral reads a cell value given on the command line.
func parseLiteral(s string) xlfmla.Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return xlfmla.Number(f)
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return xlfmla.Boolean(true)
	case "FALSE":
		return xlfmla.Boolean(false)
	}
	if code, ok := xlfmla.ParseErrorCode(s); ok {
		return code
	}
	return xlfmla.Text(s)
}

// assign stores "A1=3" or "A1==B1*2" on the default sheet.
func assign(book *xlfmla.Book, s string) error {
	addr, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected CELL=VALUE, got %q", s)
	}
	row, col, err := xlfmla.A1(strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "=") {
		return book.SetFormula(defaultSheet, row, col, value)
	}
	return book.SetValue(defaultSheet, row, col, parseLiteral(value))
}

func cmdEval(args []string, cfg config, stdout, stderr io.Writer) int {
	var sets stringList
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	locale := fs.String("locale", "", "formula language")
	at := fs.String("at", "A1", "cell the formula is evaluated in")
	fs.Var(&sets, "set", "set a cell, CELL=VALUE or CELL==FORMULA")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "eval needs one formula")
		return 2
	}
	opts, err := options(cfg, *locale, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	book, err := newBook(opts, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, s := range sets {
		if err := assign(book, s); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	row, col, err := xlfmla.A1(*at)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	v, err := book.EvaluateFormula(defaultSheet, row, col, fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, formatValue(v))
	return 0
}

func formatValue(v xlfmla.Value) string {
	if t, ok := v.(xlfmla.Text); ok {
		return strconv.Quote(string(t))
	}
	return v.String()
}

func cmdRecalc(args []string, cfg config, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recalc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workers := fs.Int("workers", cfg.Workers, "parallel evaluators, 0 for one per CPU")
	delimiterFlag := fs.String("d", ",", "delimiter")
	quotingFlag := fs.String("q", "minimal", "field quoting")
	sheetDelimiter := fs.String("p", defaultSheetDelimiter, "sheet delimiter")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "recalc needs one workbook file")
		return 2
	}
	delimiter, err := parseDelimiter(*delimiterFlag)
	if err != nil {
		fmt.Fprintf(stderr, "invalid delimiter: %v\n", err)
		return 2
	}
	quoting, err := parseQuoting(*quotingFlag)
	if err != nil {
		fmt.Fprintf(stderr, "invalid quoting: %v\n", err)
		return 2
	}
	opts, err := options(cfg, "", stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	content, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	book, err := loadWorkbook(content, opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := book.Recalculate(*workers); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	w := bufio.NewWriter(stdout)
	cw := &csvWriter{w: w, delimiter: delimiter, lineTerminator: "\n", quoting: quoting}
	for i, sheet := range book.Sheets() {
		if i > 0 && *sheetDelimiter != "" {
			fmt.Fprint(w, *sheetDelimiter, cw.lineTerminator)
		}
		if err := writeSheet(cw, sheet); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// loadWorkbook picks the loader from the content's signature; anything that
// is not a BIFF workbook is read as YAML.
func loadWorkbook(content []byte, opts *xlfmla.Options) (*xlfmla.Book, error) {
	switch format := xlfmla.InspectFormat(content); format {
	case "xls", "biff":
		return xlfmla.LoadWorkbookBIFF(bytes.NewReader(content), opts)
	case "xlsx", "xlsb", "ods", "zip":
		return nil, fmt.Errorf("%s; not supported", xlfmla.FileFormatDescriptions[format])
	}
	return xlfmla.LoadWorkbookYAML(bytes.NewReader(content), opts)
}

func cmdRecords(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	fs.SetOutput(stderr)
	count := fs.Bool("count", false, "print record counts")
	unnumbered := fs.Bool("u", false, "omit offsets")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "records needs one workbook file")
		return 2
	}
	content, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	stream, err := xlfmla.WorkbookStream(content)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	w := bufio.NewWriter(stdout)
	if *count {
		err = xlfmla.CountRecords(w, stream)
	} else {
		err = xlfmla.DumpRecords(w, stream, *unnumbered)
	}
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func writeSheet(cw *csvWriter, sheet *xlfmla.Sheet) error {
	for rowx := 0; rowx < sheet.NRows; rowx++ {
		values, err := sheet.Row(rowx)
		if err != nil {
			return err
		}
		fields := make([]field, len(values))
		for colx, v := range values {
			_, isNumeric := v.(xlfmla.Number)
			fields[colx] = field{text: v.String(), isNumeric: isNumeric}
		}
		if err := cw.writeRow(fields); err != nil {
			return err
		}
	}
	return nil
}

func cmdRepl(cfg config, stdout, stderr io.Writer) int {
	opts, err := options(cfg, "", stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	book, err := newBook(opts, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	prompt := func(p string) (string, error) {
		line, err := ln.Prompt(p)
		if err == nil && strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		return line, err
	}
	return repl(book, prompt, stdout, stderr)
}

// repl reads lines until EOF or ":quit". Each line is a formula evaluated
// in A1 of Sheet1.
func repl(book *xlfmla.Book, prompt func(string) (string, error), stdout, stderr io.Writer) int {
	for {
		line, err := prompt("xlfmla> ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(stdout)
			return 0
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit":
			return 0
		case strings.HasPrefix(line, ":set "):
			if err := assign(book, strings.TrimPrefix(line, ":set ")); err != nil {
				fmt.Fprintln(stderr, err)
			}
			continue
		case strings.HasPrefix(line, ":"):
			fmt.Fprintln(stdout, "unknown command. Type :quit to exit.")
			continue
		}
		v, err := book.EvaluateFormula(defaultSheet, 0, 0, line)
		if err != nil {
			fmt.Fprintln(stderr, err)
			continue
		}
		fmt.Fprintln(stdout, formatValue(v))
	}
}

func parseDelimiter(value string) (rune, error) {
	switch strings.ToLower(value) {
	case "tab", "x09":
		return '\t', nil
	}
	if value == "" {
		return 0, fmt.Errorf("delimiter cannot be empty")
	}
	if strings.HasPrefix(value, "x") && len(value) == 3 {
		decoded, err := strconv.ParseUint(value[1:], 16, 8)
		if err != nil {
			return 0, err
		}
		return rune(decoded), nil
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r, nil
}

func parseQuoting(value string) (quotingMode, error) {
	switch strings.ToLower(value) {
	case "none":
		return quotingNone, nil
	case "minimal":
		return quotingMinimal, nil
	case "nonnumeric":
		return quotingNonNumeric, nil
	case "all":
		return quotingAll, nil
	default:
		return quotingMinimal, fmt.Errorf("unsupported quoting: %s", value)
	}
}

func (cw *csvWriter) writeRow(fields []field) error {
	var buf bytes.Buffer
	for i, field := range fields {
		if i > 0 {
			buf.WriteRune(cw.delimiter)
		}
		buf.WriteString(cw.formatField(field))
	}
	buf.WriteString(cw.lineTerminator)
	_, err := cw.w.Write(buf.Bytes())
	return err
}

func (cw *csvWriter) formatField(f field) string {
	if !cw.needsQuote(f) {
		return f.text
	}
	return `"` + strings.ReplaceAll(f.text, `"`, `""`) + `"`
}

func (cw *csvWriter) needsQuote(f field) bool {
	switch cw.quoting {
	case quotingAll:
		return true
	case quotingNonNumeric:
		return !f.isNumeric
	case quotingMinimal:
		return strings.ContainsRune(f.text, cw.delimiter) || strings.ContainsAny(f.text, "\"\r\n")
	}
	return false
}

package main

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yamitzky/xlfmla-go/xlfmla"
)

func TestRunVersion(t *testing.T) {
	out, errOut, code := runCLI([]string{"-v"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if out != version+"\n" {
		t.Fatalf("output %q, want %q", out, version+"\n")
	}
}

func TestRunUsage(t *testing.T) {
	tests := [][]string{
		nil,
		{"frobnicate"},
		{"parse"},
		{"eval", "=1", "=2"},
		{"-nosuchflag", "eval", "=1"},
	}
	for _, args := range tests {
		_, errOut, code := runCLI(args)
		if code != 2 {
			t.Errorf("run(%q) exit code %d, want 2", args, code)
		}
		if errOut == "" {
			t.Errorf("run(%q) wrote nothing to stderr", args)
		}
	}
}

func TestRunParse(t *testing.T) {
	out, errOut, code := runCLI([]string{"parse", "=1+2"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "len: 7\n") {
		t.Fatalf("missing token length in %q", out)
	}
	if !strings.Contains(out, "hex: 1e01001e020003\n") {
		t.Fatalf("missing token bytes in %q", out)
	}

	_, errOut, code = runCLI([]string{"parse", "=SUMM(1)"})
	if code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.Contains(errOut, "SUMM") {
		t.Fatalf("stderr %q does not name the function", errOut)
	}
}

func TestRunParseSheets(t *testing.T) {
	out, errOut, code := runCLI([]string{"parse", "-sheet", "Data", "=Data!A1*2"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "hex: 3a") && !strings.Contains(out, "hex: 5a") {
		t.Fatalf("expected a tRef3d token, got %q", out)
	}
	if _, _, code := runCLI([]string{"parse", "=Data!A1*2"}); code != 1 {
		t.Fatalf("exit code %d for an unknown sheet, want 1", code)
	}
}

func TestRunDecode(t *testing.T) {
	out, errOut, code := runCLI([]string{"decode", "1e01001e020003"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if out != "=1+2\n" {
		t.Fatalf("output %q, want %q", out, "=1+2\n")
	}

	out, errOut, code = runCLI([]string{"decode", "-dump", "1e 0100 1e 0200 03"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "=1+2\n") || strings.Count(out, "\n") < 4 {
		t.Fatalf("dump output %q", out)
	}

	if _, _, code := runCLI([]string{"decode", "zz"}); code != 2 {
		t.Fatalf("exit code %d for bad hex, want 2", code)
	}
	if _, _, code := runCLI([]string{"decode", "1e01"}); code != 1 {
		t.Fatalf("exit code %d for a truncated token, want 1", code)
	}
}

func TestRunEval(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"eval", "=1+2"}, "3"},
		{[]string{"eval", `="a"&"b"`}, `"ab"`},
		{[]string{"eval", "=1/0"}, "#DIV/0!"},
		{[]string{"eval", "-set", "A1=4", "-set", "B1==A1*2", "=B1+1"}, "9"},
		{[]string{"eval", "-set", "A1=TRUE", "=NOT(A1)"}, "FALSE"},
		{[]string{"eval", "-at", "C5", "=ROW()*10+COLUMN()"}, "53"},
		{[]string{"eval", "-locale", "de", "=SUMME(1,2)"}, "3"},
	}
	for _, tt := range tests {
		out, errOut, code := runCLI(tt.args)
		if code != 0 {
			t.Errorf("run(%q) exit code %d, stderr: %s", tt.args, code, errOut)
			continue
		}
		if got := strings.TrimSuffix(out, "\n"); got != tt.want {
			t.Errorf("run(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}

	if _, _, code := runCLI([]string{"eval", "=1+"}); code != 1 {
		t.Errorf("exit code %d for a syntax error, want 1", code)
	}
	if _, _, code := runCLI([]string{"eval", "-set", "A1", "=1"}); code != 1 {
		t.Errorf("exit code %d for a bad -set, want 1", code)
	}
	if _, _, code := runCLI([]string{"eval", "-locale", "xx", "=1"}); code != 1 {
		t.Errorf("exit code %d for an unknown locale, want 1", code)
	}
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xlfmla.yaml")
	if err := os.WriteFile(path, []byte("datemode: 1\nlocale: de\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, errOut, code := runCLI([]string{"-config", path, "eval", "=DATUM(1904,1,2)"})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if out != "1\n" {
		t.Fatalf("output %q, want %q", out, "1\n")
	}

	if _, _, code := runCLI([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "eval", "=1"}); code != 1 {
		t.Fatalf("exit code %d for a missing config, want 1", code)
	}
}

func TestRunRecalc(t *testing.T) {
	out, errOut, code := runCLI([]string{"recalc", "-workers", "2", samplePath(t, "basic.yaml")})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	parts := strings.Split(out, defaultSheetDelimiter+"\n")
	if len(parts) != 2 {
		t.Fatalf("expected 2 sheets, got %d: %q", len(parts), out)
	}
	inputs := readAll(t, parts[0], ',')
	if got := strings.Join(inputs[0], "|"); got != "10|0.1|hello" {
		t.Errorf("Inputs row 1 = %q", got)
	}
	if got := strings.Join(inputs[2], "|"); got != "30|#N/A|" {
		t.Errorf("Inputs row 3 = %q", got)
	}
	report := readAll(t, parts[1], ',')
	if got := strings.Join(report[0], "|"); got != "30.5||61" {
		t.Errorf("Report row 1 = %q", got)
	}
	if report[3][0] != "hello world" {
		t.Errorf("Report!A4 = %q, want %q", report[3][0], "hello world")
	}
}

func TestRunRecalcOptions(t *testing.T) {
	doc := "sheets:\n  - name: S\n    cells:\n      A1: 'a,b'\n      B1: 2\n      C1: \"=B1*2\"\n"
	var stdout, stderr bytes.Buffer
	code := run([]string{"recalc", "-d", "tab", "-q", "nonnumeric", "-"}, strings.NewReader(doc), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if got := stdout.String(); got != "\"a,b\"\t2\t4\n" {
		t.Fatalf("output %q", got)
	}

	for _, args := range [][]string{
		{"recalc", "-d", "", "-"},
		{"recalc", "-q", "sometimes", "-"},
	} {
		if _, _, code := runCLI(args); code != 2 {
			t.Errorf("run(%q) exit code %d, want 2", args, code)
		}
	}
	if _, _, code := runCLI([]string{"recalc", "nosuchfile.yaml"}); code != 1 {
		t.Errorf("exit code %d for a missing file, want 1", code)
	}
}

// biffStream returns a workbook stream with Sheet1!A1 = 2 and
// Sheet1!A2 = A1*3.
func biffStream() []byte {
	var buf bytes.Buffer
	record := func(code uint16, body ...byte) {
		binary.Write(&buf, binary.LittleEndian, code)
		binary.Write(&buf, binary.LittleEndian, uint16(len(body)))
		buf.Write(body)
	}
	bof := func(dt byte) {
		record(0x0809, 0x00, 0x06, dt, 0x00, 0xBB, 0x0D, 0xCC, 0x07, 0, 0, 0, 0, 0, 0, 0, 0)
	}
	bof(0x05)
	// BOUNDSHEET; the sheet offset is patched below.
	record(0x0085, append([]byte{0, 0, 0, 0, 0, 0, 6, 0}, "Sheet1"...)...)
	record(0x000A)
	binary.LittleEndian.PutUint32(buf.Bytes()[24:], uint32(buf.Len()))
	bof(0x10)
	// NUMBER A1 = 2
	record(0x0203, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x40)
	// FORMULA A2 = $A$1*3
	record(0x0006, 1, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		9, 0,
		0x44, 0, 0, 0, 0, 0x1E, 3, 0, 0x05)
	record(0x000A)
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunRecalcBIFF(t *testing.T) {
	path := writeTemp(t, "book.xls", biffStream())
	out, errOut, code := runCLI([]string{"recalc", path})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if out != "2\n6\n" {
		t.Fatalf("output %q, want %q", out, "2\n6\n")
	}

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	if _, err := zw.Create("xl/workbook.xml"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	_, errOut, code = runCLI([]string{"recalc", writeTemp(t, "book.xlsx", zbuf.Bytes())})
	if code != 1 {
		t.Fatalf("exit code %d for an xlsx file, want 1", code)
	}
	if !strings.Contains(errOut, "xlsx") {
		t.Fatalf("stderr %q does not name the format", errOut)
	}

	truncated := biffStream()
	truncated = truncated[:len(truncated)-6]
	if _, _, code := runCLI([]string{"recalc", writeTemp(t, "short.xls", truncated)}); code != 1 {
		t.Fatalf("exit code %d for a truncated stream, want 1", code)
	}
}

func TestRunRecords(t *testing.T) {
	path := writeTemp(t, "book.xls", biffStream())
	out, errOut, code := runCLI([]string{"records", "-count", path})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	want := "       2 BOF\n       1 BOUNDSHEET\n       2 EOF\n       1 FORMULA\n       1 NUMBER\n"
	if out != want {
		t.Fatalf("output %q, want %q", out, want)
	}

	out, errOut, code = runCLI([]string{"records", "-u", path})
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "0809 BOF len = 0010 (16)\n") {
		t.Fatalf("dump starts %q", out)
	}

	if _, _, code := runCLI([]string{"records", writeTemp(t, "book.yaml", []byte("sheets: []\n"))}); code != 1 {
		t.Fatalf("exit code %d for a YAML file, want 1", code)
	}
	if _, _, code := runCLI([]string{"records"}); code != 2 {
		t.Fatalf("exit code %d without a file, want 2", code)
	}
}

func TestRepl(t *testing.T) {
	book, err := newBook(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	lines := []string{":set A1=5", "=A1*2", "", ":help", "=1+", `="x"`, ":quit", "=never"}
	prompt := func(string) (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}
	var stdout, stderr bytes.Buffer
	if code := repl(book, prompt, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	want := "10\nunknown command. Type :quit to exit.\n\"x\"\n"
	if stdout.String() != want {
		t.Errorf("stdout %q, want %q", stdout.String(), want)
	}
	if stderr.Len() == 0 {
		t.Error("syntax error not reported")
	}
	if len(lines) != 1 {
		t.Errorf("repl read past :quit, %d lines left", len(lines))
	}
	if v, _ := book.Value(defaultSheet, 0, 0); v != xlfmla.Number(5) {
		t.Errorf("A1 = %v, want 5", v)
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in   string
		want rune
	}{
		{",", ','},
		{"tab", '\t'},
		{"x3b", ';'},
		{"|", '|'},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseDelimiter(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func runCLI(args []string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(""), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func samplePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("..", "..", "testdata", "books", name)
}

func readAll(t *testing.T, output string, delimiter rune) [][]string {
	t.Helper()
	reader := csv.NewReader(strings.NewReader(output))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

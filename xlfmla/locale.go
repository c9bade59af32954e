package xlfmla

import (
	"embed"
	"io"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Locale translates function names and boolean literals between English
// and another language. Separators and error literals are not translated.
type Locale struct {
	Name  string `yaml:"name"`
	True  string `yaml:"true"`
	False string `yaml:"false"`
	// Functions maps English function names to local ones.
	Functions map[string]string `yaml:"functions"`

	toEnglish map[string]string
	toLocal   map[string]string
}

// LoadLocale reads a locale table in YAML.
func LoadLocale(r io.Reader) (*Locale, error) {
	var loc Locale
	if err := yaml.NewDecoder(r).Decode(&loc); err != nil {
		return nil, xerrors.Errorf("locale: %w", err)
	}
	if loc.True == "" || loc.False == "" {
		return nil, xerrors.Errorf("locale %s: missing boolean words", loc.Name)
	}
	loc.toEnglish = make(map[string]string, len(loc.Functions))
	loc.toLocal = make(map[string]string, len(loc.Functions))
	for en, local := range loc.Functions {
		en, local = strings.ToUpper(en), strings.ToUpper(local)
		if FunctionByName(en) == nil {
			return nil, xerrors.Errorf("locale %s: unknown function %s", loc.Name, en)
		}
		if prev, ok := loc.toEnglish[local]; ok {
			return nil, xerrors.Errorf("locale %s: %s translates both %s and %s", loc.Name, local, prev, en)
		}
		loc.toEnglish[local] = en
		loc.toLocal[en] = local
	}
	return &loc, nil
}

// LocaleByName returns one of the built-in locales.
func LocaleByName(name string) (*Locale, error) {
	f, err := localeFS.Open("locales/" + strings.ToLower(name) + ".yaml")
	if err != nil {
		return nil, xerrors.Errorf("no locale %q", name)
	}
	defer f.Close()
	return LoadLocale(f)
}

// englishFunction maps an upper-case local function name to English.
// Names without a translation are returned unchanged.
func (l *Locale) englishFunction(name string) string {
	if en, ok := l.toEnglish[name]; ok {
		return en
	}
	return name
}

func (l *Locale) localFunction(name string) string {
	if local, ok := l.toLocal[name]; ok {
		return local
	}
	return name
}

func (l *Locale) parseBool(s string) (bool, bool) {
	switch strings.ToUpper(s) {
	case strings.ToUpper(l.True):
		return true, true
	case strings.ToUpper(l.False):
		return false, true
	}
	return false, false
}

func (l *Locale) boolText(b bool) string {
	if b {
		return l.True
	}
	return l.False
}

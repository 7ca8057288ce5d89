package server

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danielgtaylor/huma/v2"
)

const (
	schemaPrefix = "#/components/schemas/"
	modulePrefix = "treta/internal/"
)

// Packages whose type names are unique across the API and stay unqualified.
var plainSchemaPackages = map[string]bool{"server": true, "domain": true}

// schemaNamer names component schemas like huma.DefaultSchemaNamer, but
// qualifies types from treta packages with their package name, so
// strategy.Report and autonomy.Report become StrategyReport and
// AutonomyReport, in type arguments too.
func schemaNamer(t reflect.Type, hint string) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		return huma.DefaultSchemaNamer(t, hint)
	}
	name = strings.ReplaceAll(name, "[]", "List[")
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '[' || r == ']' || r == '*' || r == ','
	})
	var b strings.Builder
	for i, part := range parts {
		pkgPath, base := "", part
		if dot := strings.LastIndex(part, "."); dot >= 0 {
			pkgPath, base = part[:dot], part[dot+1:]
		} else if i == 0 {
			pkgPath = t.PkgPath()
		}
		b.WriteString(qualifier(pkgPath))
		b.WriteString(upperFirst(base))
	}
	return b.String()
}

func qualifier(pkgPath string) string {
	if !strings.HasPrefix(pkgPath, modulePrefix) {
		return ""
	}
	pkg := pkgPath[strings.LastIndex(pkgPath, "/")+1:]
	if plainSchemaPackages[pkg] {
		return ""
	}
	return upperFirst(pkg)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func newSchemaRegistry() huma.Registry {
	return huma.NewMapRegistry(schemaPrefix, schemaNamer)
}

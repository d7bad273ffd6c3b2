package ledger

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var placeholderPattern = regexp.MustCompile(`^(SPEAKER_\d+|UNKNOWN)$`)

// NormalizeName canonicalizes a speaker name: NFC form with runs of
// whitespace collapsed to one space.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// IsPlaceholder reports whether name is an unresolved diarization label
// rather than a person.
func IsPlaceholder(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	return name == "" || placeholderPattern.MatchString(name)
}

// NameFromDir turns a sample directory name such as "matt_smith" into a
// speaker name ("Matt Smith").
func NameFromDir(dir string) string {
	spaced := strings.NewReplacer("_", " ", "-", " ").Replace(dir)
	return cases.Title(language.English).String(NormalizeName(spaced))
}

// ShortName is the first word of a speaker name.
func ShortName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

package voter

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Labels are domain literals printed on the form. Each field accepts the
// Hindi label of the printed roll and its English equivalent. Separators
// accept any Unicode space (OCR emits no-break spaces) and ID digits any
// decimal digit, Devanagari included.
var (
	voterIDPattern  = regexp.MustCompile(`[A-Z]{3}[\s\x{85}\p{Z}]*\p{Nd}{7}`)
	namePattern     = regexp.MustCompile(`(?:निर्वाचक का नाम|Voter's Name)[:\s\x{85}\p{Z}]*([^\n]+)`)
	relativePattern = regexp.MustCompile(`(?:पिता का नाम|पति का नाम|अन्य|Father's Name|Husband's Name|Other)[:\s\x{85}\p{Z}]*([^\n]+)`)
	housePattern    = regexp.MustCompile(`(?:मकान संख्या|House Number)[:\s\x{85}\p{Z}]*([^\n]+)`)
	agePattern      = regexp.MustCompile(`(?:उम्र|Age)[:\s\x{85}\p{Z}]*([0-9]{1,3})`)
	genderPattern   = regexp.MustCompile(`(?:लिंग|Gender)[:\s\x{85}\p{Z}]*([^\n]+)`)
)

// Extract runs the six field searches over one cell's text. Each search is
// independent and takes the first match; absent fields are empty. The text is
// NFC-normalized first, since OCR engines differ in how they emit nukta forms.
func Extract(text string) Record {
	text = norm.NFC.String(text)
	return Record{
		VoterID:      extractVoterID(text),
		VoterName:    firstGroup(namePattern, text),
		RelativeName: firstGroup(relativePattern, text),
		HouseNumber:  firstGroup(housePattern, text),
		Age:          firstGroup(agePattern, text),
		Gender:       firstGroup(genderPattern, text),
	}
}

func extractVoterID(text string) string {
	match := voterIDPattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.Join(strings.Fields(match), "")
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

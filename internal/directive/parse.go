package directive

import (
	"regexp"
	"strings"
)

// Record is one structured wayfinding fact extracted from an assistant
// reply. All fields are optional; Raw always carries the utterance the
// fields came from so the UI can show "heard: ..." even when nothing
// extracted.
type Record struct {
	Department string
	Room       string
	Floor      string
	Contacts   string
	Direction  string
	Raw        string
}

// HasFields reports whether any structured field was recovered.
func (r *Record) HasFields() bool {
	return r.Department != "" || r.Room != "" || r.Floor != "" ||
		r.Contacts != "" || r.Direction != ""
}

// Parse extracts wayfinding fields from one utterance. Returns nil only for
// empty input; a parse that finds nothing is a valid, empty result. Never
// errors.
func Parse(utterance string) *Record {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil
	}

	// Labeled lines win outright: if the assistant answered in structured
	// form, heuristics must not second-guess it.
	if rec, ok := parseLabeled(text); ok {
		return rec
	}

	norm := normalize(text)
	rec := &Record{Raw: text}
	for _, s := range heuristics {
		if v := s.extract(text, norm); v != "" {
			s.assign(rec, v)
		}
	}
	return rec
}

// --- labeled tier ---

var labeledFields = []struct {
	re     *regexp.Regexp
	assign func(*Record, string)
}{
	{labelRe("ОТДЕЛ", "DEPARTMENT"), func(r *Record, v string) { r.Department = v }},
	{labelRe("КАБИНЕТ", "ROOM", "OFFICE"), func(r *Record, v string) { r.Room = v }},
	{labelRe("ЭТАЖ", "FLOOR"), func(r *Record, v string) { r.Floor = v }},
	{labelRe("КОНТАКТЫ", "CONTACTS", "PHONE"), func(r *Record, v string) { r.Contacts = v }},
	{labelRe("НАПРАВЛЕНИЕ", "DIRECTION"), func(r *Record, v string) { r.Direction = v }},
}

func labelRe(labels ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^\s*(?:` + strings.Join(labels, "|") + `)\s*:\s*(.+)$`)
}

func parseLabeled(text string) (*Record, bool) {
	rec := &Record{Raw: text}
	found := false
	for _, f := range labeledFields {
		if m := f.re.FindStringSubmatch(text); m != nil {
			f.assign(rec, strings.TrimSpace(m[1]))
			found = true
		}
	}
	return rec, found
}

// --- heuristic tier ---

// Each strategy is independent; the reducer in Parse applies them in order.
// Order matters only for documentation value, the fields are disjoint.
var heuristics = []struct {
	name    string
	extract func(raw, norm string) string
	assign  func(*Record, string)
}{
	{"room", extractRoom, func(r *Record, v string) { r.Room = v }},
	{"floor", extractFloor, func(r *Record, v string) { r.Floor = v }},
	{"contacts", extractContacts, func(r *Record, v string) { r.Contacts = v }},
	{"department", extractDepartment, func(r *Record, v string) { r.Department = v }},
	{"direction", extractDirection, func(r *Record, v string) { r.Direction = v }},
}

func normalize(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(strings.ToLower(s), " "))
}

var spaceRe = regexp.MustCompile(`\s+`)

// Room numbers: short alphanumeric token adjacent to a room keyword, tried
// keyword-first then keyword-after, Russian then English. RE2 and JS alike
// treat Cyrillic as non-word, so the Russian patterns avoid \b entirely.
const roomToken = `([0-9]{1,4}(?:[-/][0-9]{1,4})?[a-zа-я]?)`

var roomPatterns = []*regexp.Regexp{
	// "кабинет 214", "каб. №214", "в кабинете 101"
	regexp.MustCompile(`(?i)(?:каб(?:инет)?\.?|кабинет(?:е|у|а|ом)?|комнат(?:а|е|у|ой))\s*[:№#-]?\s*` + roomToken),
	// reversed order: "214 кабинет"
	regexp.MustCompile(`(?i)` + roomToken + `\s*(?:каб(?:инет)?\.?|кабинет(?:е|у|а|ом)?|комнат(?:а|е|у|ой))`),
	// "Room 214", "Office 214", "Rm. 214"
	regexp.MustCompile(`(?i)\b(?:room|rm\.?|office)\s*(?:[:#-]|no\.?|number)?\s*` + roomToken),
	// reversed: "214 room"
	regexp.MustCompile(`(?i)` + roomToken + `\s*\b(?:room|rm\.?|office)\b`),
}

func extractRoom(raw, _ string) string {
	for _, re := range roomPatterns {
		if m := re.FindStringSubmatch(raw); m != nil && m[1] != "" {
			return strings.ToUpper(strings.TrimSpace(m[1]))
		}
	}
	return ""
}

var numericFloorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)этаж\s*#?\s*([0-9]{1,2})`),
	regexp.MustCompile(`(?i)([0-9]{1,2})\s*(?:-?\s*[йм])?\s*этаж`),
	regexp.MustCompile(`(?i)на\s+([0-9]{1,2})\s*(?:-?\s*м)?\s+этаже`),
	regexp.MustCompile(`(?i)\bfloor\s*#?\s*([0-9]{1,2})`),
	regexp.MustCompile(`(?i)\b([0-9]{1,2})(?:st|nd|rd|th)?\s*floor\b`),
	regexp.MustCompile(`(?i)\bon\s+the\s+([0-9]{1,2})(?:st|nd|rd|th)?\s+floor\b`),
}

type ordinal struct {
	re    *regexp.Regexp
	value string
}

// Spoken replies rarely contain digits: "на втором этаже", "second floor".
// The ordinal tables only apply when a floor keyword is present, otherwise
// "first, turn left" would claim floor 1.
var ruOrdinalFloors = []ordinal{
	{regexp.MustCompile(`(?:^|\s)перв(?:ый|ом|ого)(?:\s|$)`), "1"},
	{regexp.MustCompile(`(?:^|\s)втор(?:ой|ом|ого)(?:\s|$)`), "2"},
	{regexp.MustCompile(`(?:^|\s)трет(?:ий|ьем|ьего)(?:\s|$)`), "3"},
	{regexp.MustCompile(`(?:^|\s)четверт(?:ый|ом|ого)(?:\s|$)`), "4"},
	{regexp.MustCompile(`(?:^|\s)пят(?:ый|ом|ого)(?:\s|$)`), "5"},
	{regexp.MustCompile(`(?:^|\s)шест(?:ой|ом|ого)(?:\s|$)`), "6"},
	{regexp.MustCompile(`(?:^|\s)седьм(?:ой|ом|ого)(?:\s|$)`), "7"},
	{regexp.MustCompile(`(?:^|\s)восьм(?:ой|ом|ого)(?:\s|$)`), "8"},
	{regexp.MustCompile(`(?:^|\s)девят(?:ый|ом|ого)(?:\s|$)`), "9"},
	{regexp.MustCompile(`(?:^|\s)десят(?:ый|ом|ого)(?:\s|$)`), "10"},
}

var enOrdinalFloors = []ordinal{
	{regexp.MustCompile(`\bfirst\b`), "1"},
	{regexp.MustCompile(`\bsecond\b`), "2"},
	{regexp.MustCompile(`\bthird\b`), "3"},
	{regexp.MustCompile(`\bfourth\b`), "4"},
	{regexp.MustCompile(`\bfifth\b`), "5"},
	{regexp.MustCompile(`\bsixth\b`), "6"},
	{regexp.MustCompile(`\bseventh\b`), "7"},
	{regexp.MustCompile(`\beighth\b`), "8"},
	{regexp.MustCompile(`\bninth\b`), "9"},
	{regexp.MustCompile(`\btenth\b`), "10"},
}

var (
	ruFloorKeyword = regexp.MustCompile(`(?i)этаж(е|а)?`)
	enFloorKeyword = regexp.MustCompile(`(?i)\bfloor\b`)
)

func extractFloor(raw, norm string) string {
	for _, re := range numericFloorPatterns {
		if m := re.FindStringSubmatch(raw); m != nil && m[1] != "" {
			return m[1]
		}
	}
	if ruFloorKeyword.MatchString(raw) {
		for _, o := range ruOrdinalFloors {
			if o.re.MatchString(norm) {
				return o.value
			}
		}
	}
	if enFloorKeyword.MatchString(raw) {
		for _, o := range enOrdinalFloors {
			if o.re.MatchString(norm) {
				return o.value
			}
		}
	}
	return ""
}

var (
	phoneRe = regexp.MustCompile(`(?i)(?:^|[\s,;(])(?:тел\.?|телефон[а-яё]*|phone|tel\.?)\s*[:\-]?\s*([+0-9][0-9\s()\-]{5,})`)
	emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
)

func extractContacts(raw, _ string) string {
	var parts []string
	if m := phoneRe.FindStringSubmatch(raw); m != nil {
		parts = append(parts, strings.TrimSpace(m[1]))
	}
	if m := emailRe.FindString(raw); m != "" {
		parts = append(parts, m)
	}
	return strings.Join(parts, " / ")
}

// Department: a keyword followed by a short free-text span. The character
// class excludes sentence punctuation so the match stops at it on its own
// (RE2 has no lookahead).
var deptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)отдел(?:ение)?\s+([0-9A-Za-zА-Яа-яЁё«»"'()\- ]{2,60})`),
	regexp.MustCompile(`(?i)\b(?:department|dept\.?)\s+([0-9A-Za-z“”"'()\- ]{2,60})`),
}

func extractDepartment(raw, _ string) string {
	for _, re := range deptPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			v := strings.TrimSpace(spaceRe.ReplaceAllString(m[1], " "))
			if len(v) >= 2 {
				return v
			}
		}
	}
	return ""
}

// Direction keyword families in fixed priority order; the first match wins.
var directionFamilies = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`налево|слева|\bleft\b`), "← left / налево"},
	{regexp.MustCompile(`направо|справа|\bright\b`), "→ right / направо"},
	{regexp.MustCompile(`вверх|наверх|подним|\bupstairs\b|\bgo up\b`), "↑ up / вверх"},
	{regexp.MustCompile(`вниз|спуст|\bdownstairs\b|\bgo down\b`), "↓ down / вниз"},
	{regexp.MustCompile(`прямо|вперед|\bstraight\b|\bahead\b`), "↑ straight / прямо"},
	{regexp.MustCompile(`лифт|лестниц|\belevator\b|\bstairs\b`), "↑ elevator / stairs"},
	{regexp.MustCompile(`коридор|\bcorridor\b|\bhallway\b`), "→ corridor"},
}

func extractDirection(_, norm string) string {
	for _, f := range directionFamilies {
		if f.re.MatchString(norm) {
			return f.token
		}
	}
	return ""
}

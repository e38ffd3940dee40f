package security

import (
	"sort"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// KeywordCategory names one family of attack indicators in the table.
type KeywordCategory string

const (
	CategorySQLInjection     KeywordCategory = "sql_injection"
	CategoryXSS              KeywordCategory = "xss"
	CategoryCommandInjection KeywordCategory = "command_injection"
	CategoryPathTraversal    KeywordCategory = "path_traversal"
	CategoryDDOS             KeywordCategory = "ddos"
	CategoryExploit          KeywordCategory = "exploit"
	CategoryMaliciousIntent  KeywordCategory = "malicious_intent"
)

// defaultKeywordTable is the built-in categorized table. Entries are matched
// as lowercase substrings after accent folding, so French input with
// diacritics ("voler les données protégées") still hits ASCII entries.
// A detection config file may replace any category (see config.DetectionFile).
var defaultKeywordTable = map[KeywordCategory][]string{
	CategorySQLInjection: {
		"select * from", "union select", "or 1=1", "1=1", "drop table",
		"insert into", "delete from", "truncate table", "xp_cmdshell",
		"information_schema", "'; --", "sql injection",
	},
	CategoryXSS: {
		"<script", "</script>", "javascript:", "onerror=", "onload=",
		"document.cookie", "alert(", "<iframe", "eval(",
	},
	CategoryCommandInjection: {
		"; rm -rf", "&& cat /etc", "| nc ", "$(", "/bin/bash -c",
		"chmod +x", "wget http", "curl http", "powershell -enc",
	},
	CategoryPathTraversal: {
		"../", "..\\", "/etc/passwd", "/etc/shadow", "%2e%2e%2f",
		"c:\\windows\\system32",
	},
	CategoryDDOS: {
		"ddos", "denial of service", "deni de service", "syn flood",
		"udp flood", "botnet", "amplification attack", "flood the server",
	},
	CategoryExploit: {
		"exploit", "metasploit", "shellcode", "buffer overflow",
		"zero-day", "zero day", "cve-", "privilege escalation",
		"reverse shell",
	},
	CategoryMaliciousIntent: {
		"hack", "pirater", "contourner la securite", "bypass security",
		"steal data", "voler les donnees", "crack password",
		"casser le mot de passe", "mot de passe admin", "acces non autorise",
	},
}

// strongMarkers force a critical keyword level on a single hit. They are
// unambiguous attack fragments with no legitimate conversational use.
var strongMarkers = []string{"sql injection", "drop table", "or 1=1"}

// KeywordDetector is the deterministic rule-based fallback detector. It is
// always available and is also run alongside the models to corroborate or
// override a unanimous safe verdict.
type KeywordDetector struct {
	table   map[KeywordCategory][]string
	markers []string
	folder  transform.Transformer
}

// NewKeywordDetector builds a detector over the built-in table.
func NewKeywordDetector() *KeywordDetector {
	return NewKeywordDetectorWithTable(nil)
}

// NewKeywordDetectorWithTable builds a detector with per-category overrides.
// Categories absent from the override keep their built-in entries.
func NewKeywordDetectorWithTable(overrides map[KeywordCategory][]string) *KeywordDetector {
	table := make(map[KeywordCategory][]string, len(defaultKeywordTable))
	for cat, words := range defaultKeywordTable {
		table[cat] = words
	}
	for cat, words := range overrides {
		if len(words) > 0 {
			table[cat] = words
		}
	}
	return &KeywordDetector{
		table:   table,
		markers: strongMarkers,
		folder:  transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// normalize lowercases and strips diacritics so table entries stay ASCII.
func (d *KeywordDetector) normalize(text string) string {
	folded, _, err := transform.String(d.folder, text)
	if err != nil {
		folded = text
	}
	return strings.ToLower(folded)
}

// corpus returns the normalized text to match against. JSON-shaped input is
// flattened to its string values first, so payloads smuggled inside JSON
// fields are still visible to the table.
func (d *KeywordDetector) corpus(text string) string {
	trimmed := strings.TrimSpace(text)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && gjson.Valid(trimmed) {
		var sb strings.Builder
		sb.WriteString(text)
		gjson.Parse(trimmed).ForEach(func(_, value gjson.Result) bool {
			collectStrings(value, &sb)
			return true
		})
		return d.normalize(sb.String())
	}
	return d.normalize(text)
}

func collectStrings(v gjson.Result, sb *strings.Builder) {
	switch v.Type {
	case gjson.String:
		sb.WriteByte(' ')
		sb.WriteString(v.String())
	case gjson.JSON:
		v.ForEach(func(_, child gjson.Result) bool {
			collectStrings(child, sb)
			return true
		})
	}
}

// Detect scans the text against the full table. Returns nil when nothing
// matched. The level follows the count rule: one strong marker or three
// distinct matches is critical, two matches high, one medium.
func (d *KeywordDetector) Detect(text string) *KeywordDetection {
	haystack := d.corpus(text)

	var matches []string
	hits := make(map[KeywordCategory]int)
	for cat, words := range d.table {
		for _, w := range words {
			if strings.Contains(haystack, w) {
				matches = append(matches, w)
				hits[cat]++
			}
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)

	// Rank categories by hit count, ties broken alphabetically so the top
	// category is deterministic for identical input.
	cats := make([]string, 0, len(hits))
	for cat := range hits {
		cats = append(cats, string(cat))
	}
	sort.Slice(cats, func(i, j int) bool {
		hi, hj := hits[KeywordCategory(cats[i])], hits[KeywordCategory(cats[j])]
		if hi != hj {
			return hi > hj
		}
		return cats[i] < cats[j]
	})

	return &KeywordDetection{
		Matches:     matches,
		TopCategory: cats[0],
		Categories:  cats,
		Level:       d.level(haystack, len(matches)),
	}
}

func (d *KeywordDetector) level(haystack string, count int) ThreatLevel {
	for _, m := range d.markers {
		if strings.Contains(haystack, m) {
			return LevelCritical
		}
	}
	switch {
	case count >= 3:
		return LevelCritical
	case count >= 2:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Categories returns the configured category names, sorted.
func (d *KeywordDetector) Categories() []KeywordCategory {
	cats := make([]KeywordCategory, 0, len(d.table))
	for cat := range d.table {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// TotalKeywords returns the number of entries across all categories.
func (d *KeywordDetector) TotalKeywords() int {
	n := 0
	for _, words := range d.table {
		n += len(words)
	}
	return n
}

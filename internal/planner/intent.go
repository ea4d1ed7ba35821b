package planner

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Intent is what the planner understood from a raw query.
type Intent struct {
	Category string   `json:"category"`
	Topic    string   `json:"topic,omitempty"`
	Keywords []string `json:"keywords"`
	Query    string   `json:"query"`
}

const maxKeywords = 5

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true, "these": true, "those": true,
	"of": true, "in": true, "on": true, "for": true, "to": true, "and": true, "or": true,
	"me": true, "my": true, "our": true, "your": true, "is": true, "are": true, "was": true,
	"what": true, "which": true, "how": true, "why": true, "please": true, "about": true,
	"term": true, "term's": true, "content": true, "contents": true, "material": true,
	"materials": true, "course": true, "files": true, "documents": true, "does": true, "s": true,
}

// Classify maps query to an intent category, a topic and search keywords.
//
// The category is the intent whose trigger appears earliest in the query
// (ties go to the alphabetically first intent); with no trigger the graph's
// default intent is used. The topic is the topics key whose name or alias
// appears earliest. Keywords are the topic when one was found, otherwise the
// query's content words.
//
// The query is NFKC-normalized first, so compatibility forms such as Kangxi
// radicals or full-width Latin match their ordinary spelling.
func Classify(g Graph, topics map[string][]string, query string) Intent {
	query = norm.NFKC.String(strings.TrimSpace(query))
	lower := strings.ToLower(query)
	intent := Intent{Category: g.DefaultIntent, Query: query}

	best := -1
	for _, name := range g.IntentNames() {
		for _, trigger := range g.Intents[name].Triggers {
			pos := indexPhrase(lower, strings.ToLower(norm.NFKC.String(trigger)))
			if pos >= 0 && (best < 0 || pos < best) {
				best = pos
				intent.Category = name
			}
		}
	}

	best = -1
	for _, name := range sortedKeys(topics) {
		for _, alias := range append([]string{name}, topics[name]...) {
			pos := indexPhrase(lower, strings.ToLower(norm.NFKC.String(alias)))
			if pos >= 0 && (best < 0 || pos < best) {
				best = pos
				intent.Topic = name
			}
		}
	}

	if intent.Topic != "" {
		intent.Keywords = []string{intent.Topic}
		return intent
	}
	triggers := make(map[string]bool)
	for _, spec := range g.Intents {
		for _, t := range spec.Triggers {
			triggers[strings.ToLower(t)] = true
		}
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		word = strings.Trim(word, "'")
		if word == "" || stopwords[word] || triggers[word] || slices.Contains(intent.Keywords, word) {
			continue
		}
		intent.Keywords = append(intent.Keywords, word)
		if len(intent.Keywords) == maxKeywords {
			break
		}
	}
	if len(intent.Keywords) == 0 && intent.Query != "" {
		intent.Keywords = []string{intent.Query}
	}
	return intent
}

// indexPhrase returns the byte offset of the first occurrence of phrase in s.
// ASCII phrases must sit on word boundaries; other scripts match as substrings
// because they are not space separated.
func indexPhrase(s, phrase string) int {
	if phrase == "" {
		return -1
	}
	if !isASCII(phrase) {
		return strings.Index(s, phrase)
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(phrase)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return start
		}
		from = start + 1
	}
	return -1
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

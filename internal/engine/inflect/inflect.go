// Package inflect holds the naive English singularization shared by join inference and concept extraction.
package inflect

import "strings"

var irregular = map[string]string{
	"people":   "person",
	"children": "child",
	"men":      "man",
	"women":    "woman",
	"data":     "data",
	"series":   "series",
	"status":   "status",
	"analysis": "analysis",
}

// Singular returns a best-effort singular form of a lower-case word.
func Singular(word string) string {
	w := strings.ToLower(word)
	if s, ok := irregular[w]; ok {
		return s
	}
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "sses") || strings.HasSuffix(w, "shes") ||
		strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "xes")):
		return w[:len(w)-2]
	case len(w) > 2 && strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case len(w) > 1 && strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

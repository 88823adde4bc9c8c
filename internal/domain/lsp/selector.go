package lsp

// Wildcard matches any scheme or language id in a DocumentFilter.
const Wildcard = "*"

// DocumentFilter matches documents by URI scheme and language id.
// An empty field or Wildcard matches anything.
type DocumentFilter struct {
	Scheme   string `yaml:"scheme" json:"scheme,omitempty"`
	Language string `yaml:"language" json:"language,omitempty"`
}

// Matches reports whether the filter accepts the given scheme and language id.
func (f DocumentFilter) Matches(scheme, languageID string) bool {
	return matchField(f.Scheme, scheme) && matchField(f.Language, languageID)
}

func matchField(pattern, value string) bool {
	return pattern == "" || pattern == Wildcard || pattern == value
}

// DocumentSelector is a set of filters; a document is selected when any filter
// matches. An empty selector selects nothing.
type DocumentSelector []DocumentFilter

// MatchAll returns a selector that accepts every document.
func MatchAll() DocumentSelector {
	return DocumentSelector{{Scheme: Wildcard, Language: Wildcard}}
}

// Matches reports whether any filter accepts the given scheme and language id.
func (s DocumentSelector) Matches(scheme, languageID string) bool {
	for _, f := range s {
		if f.Matches(scheme, languageID) {
			return true
		}
	}
	return false
}

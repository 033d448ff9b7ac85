package service

import "github.com/videotranslator/api/internal/model"

// defaultLanguages is the catalog offered by the language selectors.
var defaultLanguages = []model.LanguageEntry{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "ru", Name: "Russian"},
	{Code: "zh", Name: "Chinese"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "ar", Name: "Arabic"},
	{Code: "hi", Name: "Hindi"},
}

// LanguageService serves the static language catalog
type LanguageService struct {
	entries []model.LanguageEntry
	index   map[string]int
}

// NewLanguageService creates a catalog from entries, or the default catalog when entries is empty
func NewLanguageService(entries []model.LanguageEntry) *LanguageService {
	if len(entries) == 0 {
		entries = defaultLanguages
	}
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Code] = i
	}
	return &LanguageService{entries: entries, index: index}
}

// FetchLanguages returns the catalog in display order
func (s *LanguageService) FetchLanguages() []model.LanguageEntry {
	out := make([]model.LanguageEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup returns the entry for code
func (s *LanguageService) Lookup(code string) (model.LanguageEntry, bool) {
	i, ok := s.index[code]
	if !ok {
		return model.LanguageEntry{}, false
	}
	return s.entries[i], true
}

// Supports reports whether code is in the catalog
func (s *LanguageService) Supports(code string) bool {
	_, ok := s.index[code]
	return ok
}

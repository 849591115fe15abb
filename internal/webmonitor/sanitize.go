package webmonitor

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
)

// Backend labels and model names are plain text; strip any markup they carry.
var textPolicy = bluemonday.StrictPolicy()

// cleanText removes markup from s. The result is unescaped plain text, ready
// for html/template to escape once.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// cleanState returns st with every backend-supplied label passed through
// cleanText. The rendered page and the live streams share it.
func cleanState(st dashboard.State) dashboard.State {
	st.ModelName = cleanText(st.ModelName)
	st.Stats = st.Stats.Clone()
	for i := range st.Stats.Logs {
		st.Stats.Logs[i].Type = cleanText(st.Stats.Logs[i].Type)
		st.Stats.Logs[i].Time = cleanText(st.Stats.Logs[i].Time)
	}
	return st
}

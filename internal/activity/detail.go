package activity

import "github.com/tidwall/gjson"

// detailField reads one scalar string field out of a RawEvent's detail
// document without declaring a struct per event kind; unrecognized fields
// are simply never read, so they pass through opaquely in the stored JSON.
func detailField(detail []byte, field string) (string, bool) {
	if len(detail) == 0 {
		return "", false
	}
	result := gjson.GetBytes(detail, field)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

// primaryName picks the display name used in a single-event title: the
// first of element_name, folder_name, title, name, image_name present.
func primaryName(detail []byte) string {
	for _, field := range []string{"element_name", "folder_name", "title", "name", "image_name"} {
		if v, ok := detailField(detail, field); ok && v != "" {
			return v
		}
	}
	return ""
}

// commentSnippet returns the truncated comment text or image name used as a
// group item's snippet.
func commentSnippet(detail []byte) string {
	if text, ok := detailField(detail, "text_snippet"); ok {
		return truncateSnippet(text, 75)
	}
	if name, ok := detailField(detail, "image_name"); ok {
		return name
	}
	return ""
}

func truncateSnippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

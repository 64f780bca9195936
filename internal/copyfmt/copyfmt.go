// Package copyfmt renders the per-platform posting copy for one clip and
// language. It is a pure formatter: resolution rules and platform shapes in,
// one plain-text string out, no filesystem access.
package copyfmt

import (
	"strings"

	"golang.org/x/text/language"
	unorm "golang.org/x/text/unicode/norm"
)

// Platform keys as they appear in publish plans and approval files.
const (
	PlatformYouTube   = "youtube"
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformX         = "x"
)

var zhHans = language.MustParse("zh-Hans")

// Languages returns the copy languages every bundle ships, in output order.
func Languages() []language.Tag {
	return []language.Tag{language.English, zhHans}
}

// KnownPlatforms lists the platforms with a dedicated copy shape.
func KnownPlatforms() []string {
	return []string{PlatformYouTube, PlatformTikTok, PlatformInstagram, PlatformX}
}

// Source carries the language-keyed text for one clip. Captions are
// clip-level and win over the plan-level description when non-empty.
type Source struct {
	Titles       map[string]string
	Descriptions map[string]string
	Captions     map[string]string
	Tags         []string
	PublishTime  string
}

// Format renders the posting copy for platform in lang. Absent pieces are
// omitted rather than rendered as empty blocks; an unknown platform falls
// back to the bare body.
func Format(platform string, lang language.Tag, src Source) string {
	title := clean(lookup(src.Titles, lang))
	body := clean(lookup(src.Captions, lang))
	if body == "" {
		body = clean(lookup(src.Descriptions, lang))
	}
	tags := NormalizeTags(src.Tags)
	when := strings.TrimSpace(src.PublishTime)

	switch platform {
	case PlatformYouTube:
		return formatYouTube(title, body, tags, when)
	case PlatformInstagram, PlatformTikTok:
		return formatFeed(body, tags, when)
	case PlatformX:
		return formatX(body, tags, when)
	default:
		return body
	}
}

// NormalizeTags strips whitespace, drops empties, prefixes '#' where missing
// and dedupes case-insensitively, keeping the first spelling seen.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// lookup resolves a language-keyed map entry case-canonically, so a plan
// written with "zh-hans" or "EN" still satisfies the canonical tag.
func lookup(m map[string]string, lang language.Tag) string {
	if v, ok := m[lang.String()]; ok {
		return v
	}
	for key, v := range m {
		if tag, err := language.Parse(key); err == nil && tag == lang {
			return v
		}
	}
	return ""
}

// clean trims and NFC-normalizes planner-supplied text. Mixed composed and
// decomposed forms show up in zh-Hans captions depending on the editor that
// produced the plan.
func clean(s string) string {
	return strings.TrimSpace(unorm.NFC.String(s))
}

func formatYouTube(title, body string, tags []string, when string) string {
	var blocks []string

	head := make([]string, 0, 2)
	if title != "" {
		head = append(head, "TITLE: "+title)
	}
	if body != "" {
		head = append(head, "DESCRIPTION:\n"+body)
	}
	if len(head) > 0 {
		blocks = append(blocks, strings.Join(head, "\n"))
	}
	if len(tags) > 0 {
		blocks = append(blocks, "HASHTAGS: "+strings.Join(tags, " "))
	}
	if when != "" {
		blocks = append(blocks, "SCHEDULED_PUBLISH_TIME: "+when)
	}
	return strings.Join(blocks, "\n\n")
}

func formatFeed(body string, tags []string, when string) string {
	var blocks []string
	if body != "" {
		blocks = append(blocks, body)
	}
	if len(tags) > 0 {
		blocks = append(blocks, strings.Join(tags, " "))
	}
	if when != "" {
		blocks = append(blocks, "SCHEDULED_PUBLISH_TIME: "+when)
	}
	return strings.Join(blocks, "\n\n")
}

// formatX keeps body and tags on one line and caps the tags at three; the
// platform trims anything longer anyway.
func formatX(body string, tags []string, when string) string {
	if len(tags) > 3 {
		tags = tags[:3]
	}
	line := body
	if len(tags) > 0 {
		joined := strings.Join(tags, " ")
		if line != "" {
			line += " " + joined
		} else {
			line = joined
		}
	}
	if when != "" {
		if line != "" {
			line += "\n"
		}
		line += "SCHEDULED_PUBLISH_TIME: " + when
	}
	return line
}

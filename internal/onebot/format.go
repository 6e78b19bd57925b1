package onebot

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Formatter prepares reply text for delivery: markdown flattening, URL
// spacing, then chunking, in that order.
type Formatter struct {
	FlattenMarkdown bool
	AntiThrottle    bool
	ChunkSize       int
}

// Render applies the configured passes and splits the result into
// sendable chunks.
func (f Formatter) Render(text string) []string {
	if f.FlattenMarkdown {
		text = Flatten(text)
	}
	if f.AntiThrottle {
		text = SpaceURLs(text)
	}
	return ChunkRunes(text, f.ChunkSize)
}

var (
	codeBlockRe  = regexp.MustCompile("(?s)```[\\w]*\\n?([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	bqRe         = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldRe2      = regexp.MustCompile(`__(.+?)__`)
	italicRe     = regexp.MustCompile(`(?:^|[^a-zA-Z0-9])_([^_]+)_(?:[^a-zA-Z0-9]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	bulletRe     = regexp.MustCompile(`(?m)^[-*]\s+`)
	tableRowRe   = regexp.MustCompile(`(?m)^\s*\|(.+)\|\s*$`)
	tableSepRe   = regexp.MustCompile(`^[\s|:\-]+$`)
	urlSchemeRe  = regexp.MustCompile(`(?i)(https?://)(\S)`)
)

// Flatten rewrites markdown to plain text. The chat surface renders raw
// text, so markers read as noise unless stripped. Running Flatten on
// already-plain text returns it unchanged. Code spans and fences come
// back verbatim but lose their backticks, so a second pass would rewrite
// any markdown-looking text they contained; callers must flatten each
// reply exactly once.
func Flatten(text string) string {
	// 1. Extract and protect code blocks
	var codeBlocks []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		matches := codeBlockRe.FindStringSubmatch(m)
		if len(matches) > 1 {
			codeBlocks = append(codeBlocks, matches[1])
			return fmt.Sprintf("\x00CB%d\x00", len(codeBlocks)-1)
		}
		return m
	})

	// 2. Extract and protect inline code
	var inlineCodes []string
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		matches := inlineCodeRe.FindStringSubmatch(m)
		if len(matches) > 1 {
			inlineCodes = append(inlineCodes, matches[1])
			return fmt.Sprintf("\x00IC%d\x00", len(inlineCodes)-1)
		}
		return m
	})

	// 3. Headers
	text = headingRe.ReplaceAllString(text, "$1")

	// 4. Blockquotes
	text = bqRe.ReplaceAllString(text, "$1")

	// 5. Links [text](url)
	text = linkRe.ReplaceAllString(text, "$1 ($2)")

	// 6. Bold **text** or __text__
	text = boldRe.ReplaceAllString(text, "$1")
	text = boldRe2.ReplaceAllString(text, "$1")

	// 7. Italic _text_
	text = italicRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := italicRe.FindStringSubmatch(m)
		if len(sub) > 1 {
			prefix := ""
			suffix := ""
			if len(m) > 0 && m[0] != '_' {
				prefix = string(m[0])
			}
			if len(m) > 0 && m[len(m)-1] != '_' {
				suffix = string(m[len(m)-1])
			}
			return prefix + sub[1] + suffix
		}
		return m
	})

	// 8. Strikethrough ~~text~~
	text = strikeRe.ReplaceAllString(text, "$1")

	// 9. Table rows: drop separator rows, join cells of the rest
	text = tableRowRe.ReplaceAllStringFunc(text, func(m string) string {
		if tableSepRe.MatchString(m) {
			return ""
		}
		cells := strings.Split(strings.Trim(strings.TrimSpace(m), "|"), "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		return strings.Join(cells, " | ")
	})

	// 10. Bullet lists
	text = bulletRe.ReplaceAllString(text, "• ")

	// 11. Restore inline code verbatim
	for i, code := range inlineCodes {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00IC%d\x00", i), code)
	}

	// 12. Restore code blocks verbatim
	for i, code := range codeBlocks {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00CB%d\x00", i), strings.TrimRight(code, "\n"))
	}

	return text
}

// SpaceURLs inserts a space after each URL scheme so links stop being
// machine-followable; automated link scanning throttles accounts that post
// too many live links. Already-spaced URLs pass through unchanged.
func SpaceURLs(text string) string {
	return urlSchemeRe.ReplaceAllString(text, "$1 $2")
}

// ChunkRunes splits text into pieces of at most limit runes. The pieces
// concatenate back to the input. A non-positive limit disables splitting.
func ChunkRunes(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImagePath classifies a media reference by extension. Images inline into
// messages; everything else goes through a file upload action.
func IsImagePath(p string) bool {
	return imageExts[strings.ToLower(filepath.Ext(p))]
}

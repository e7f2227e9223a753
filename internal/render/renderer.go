package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	// Bold italic: non-greedy match
	boldItalicRe = regexp.MustCompile(`\*\*\*([^*]+?)\*\*\*`)

	// Bold: allows single asterisk (for nested italic)
	boldStarRe = regexp.MustCompile(`\*\*([^*]+?(?:\*[^*]+?)*?)\*\*`)
	boldUndRe  = regexp.MustCompile(`__([^_]+?(?:_[^_]+?)*?)__`)

	// Strikethrough
	strikeRe = regexp.MustCompile(`~~([^~]+?)~~`)

	// Italic: non-greedy match
	italicStarRe = regexp.MustCompile(`\*([^*]+?)\*`)
	italicUndRe  = regexp.MustCompile(`_([^_]+?)_`)

	// Heading
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// MarkdownToTelegramHTML converts a conservative markdown subset to Telegram
// HTML. It is the middle rung of the delivery ladder: used when Telegram
// rejects the raw markdown parse.
func MarkdownToTelegramHTML(input string) string {
	if input == "" {
		return ""
	}

	// Bound the input so a runaway model reply cannot stall rendering.
	const maxInputSize = 100000
	if len(input) > maxInputSize {
		truncated := input[:maxInputSize]
		return html.EscapeString(truncated) + "... (truncated)"
	}

	input = strings.ReplaceAll(input, "\r\n", "\n")
	lines := strings.Split(input, "\n")
	rendered := make([]string, 0, len(lines))
	inFence := false
	fenceStart := ""
	fenceLines := make([]string, 0, 16)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		// Note: single-line ```code``` is inline code, not a code block.
		if strings.HasPrefix(trimmed, "```") {
			backtickCount := 0
			for i := 0; i < len(trimmed) && trimmed[i] == '`'; i++ {
				backtickCount++
			}

			if !inFence {
				if strings.HasSuffix(trimmed, strings.Repeat("`", backtickCount)) && len(trimmed) > backtickCount*2 {
					rendered = append(rendered, renderMarkdownLine(line))
					continue
				}

				inFence = true
				fenceStart = line
				fenceLines = fenceLines[:0]
			} else {
				inFence = false
				rendered = append(rendered, renderFenceBlock(fenceLines))
			}
			continue
		}

		if inFence {
			fenceLines = append(fenceLines, line)
			continue
		}

		rendered = append(rendered, renderMarkdownLine(line))
	}

	if inFence {
		// Unterminated fence, keep it raw.
		rendered = append(rendered, html.EscapeString(fenceStart))
		for _, line := range fenceLines {
			rendered = append(rendered, html.EscapeString(line))
		}
	}

	return strings.Join(rendered, "\n")
}

func renderMarkdownLine(line string) string {
	matches := headingRe.FindStringSubmatch(line)
	if matches != nil {
		return renderHeading(matches[2])
	}
	return renderInline(line)
}

// renderHeading converts a heading to bold text without decorating it.
func renderHeading(title string) string {
	return fmt.Sprintf("<b>%s</b>", applyInlineFormatting(title))
}

// applyInlineFormatting escapes the text first, then applies markdown
// formatting on the escaped result.
func applyInlineFormatting(text string) string {
	if text == "" {
		return ""
	}
	return renderInline(html.EscapeString(text))
}

func renderInline(line string) string {
	if line == "" {
		return ""
	}

	// Step 1: extract links and inline code, replace with placeholders so
	// formatting regexes cannot touch their contents.
	type placeholder struct {
		start, end    int
		html          string
		placeholderID string
	}
	var placeholders []placeholder
	placeholderIndex := 0

	i := 0
	for i < len(line) {
		if line[i] == '[' {
			label, url, ok := parseLink(line[i:])
			if ok {
				// Only allow http:// and https:// targets.
				if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
					url = balanceParentheses(url)
					escapedLabel := html.EscapeString(label)
					escapedURL := html.EscapeString(url)
					linkHTML := fmt.Sprintf(`<a href="%s">%s</a>`, escapedURL, escapedLabel)
					placeholderID := fmt.Sprintf("{{LINK%d}}", placeholderIndex)
					placeholderIndex++
					placeholders = append(placeholders, placeholder{
						start:         i,
						end:           i + len(label) + len(url) + 4,
						html:          linkHTML,
						placeholderID: placeholderID,
					})
					i += len(label) + len(url) + 4
					continue
				}
				i++
				continue
			}
		}

		if line[i] == '`' {
			backtickCount := 1
			for i+backtickCount < len(line) && line[i+backtickCount] == '`' {
				backtickCount++
			}

			end := -1
			for j := i + backtickCount; j < len(line); j++ {
				if line[j] == '`' {
					endCount := 1
					for j+endCount < len(line) && line[j+endCount] == '`' {
						endCount++
					}

					if endCount == backtickCount {
						end = j
						break
					}

					j += endCount - 1
				}
			}

			if end != -1 {
				code := line[i+backtickCount : end]
				codeHTML := "<code>" + html.EscapeString(code) + "</code>"
				placeholderID := fmt.Sprintf("{{CODE%d}}", placeholderIndex)
				placeholderIndex++
				placeholders = append(placeholders, placeholder{
					start:         i,
					end:           end + backtickCount,
					html:          codeHTML,
					placeholderID: placeholderID,
				})
				i = end + backtickCount
				continue
			}
			i++
			continue
		}

		i++
	}

	// Step 2: build the line with placeholders substituted in.
	var processed strings.Builder
	lastPos := 0
	for _, ph := range placeholders {
		if ph.start > lastPos {
			processed.WriteString(line[lastPos:ph.start])
		}
		processed.WriteString(ph.placeholderID)
		lastPos = ph.end
	}
	if lastPos < len(line) {
		processed.WriteString(line[lastPos:])
	}

	// Step 3: escape, format, then restore placeholders.
	formattedStr := applyFormatting(html.EscapeString(processed.String()))

	result := formattedStr
	for _, ph := range placeholders {
		result = strings.Replace(result, ph.placeholderID, ph.html, 1)
	}

	return result
}

// applyFormatting applies markdown formatting to escaped text.
func applyFormatting(text string) string {
	if text == "" {
		return ""
	}

	text = boldItalicRe.ReplaceAllString(text, "<b><i>$1</i></b>")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUndRe.ReplaceAllString(text, "<b>$1</b>")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = italicStarRe.ReplaceAllString(text, "<i>$1</i>")
	text = italicUndRe.ReplaceAllString(text, "<i>$1</i>")

	return text
}

// parseLink parses a markdown link, handling nested brackets.
func parseLink(input string) (label, url string, ok bool) {
	start := strings.Index(input, "[")
	if start == -1 {
		return "", "", false
	}

	balance := 0
	end := -1
	for i := start; i < len(input); i++ {
		if input[i] == '[' {
			balance++
		} else if input[i] == ']' {
			balance--
			if balance == 0 {
				end = i
				break
			}
		}
	}
	if end == -1 {
		return "", "", false
	}

	label = input[start+1 : end]

	if end+1 >= len(input) || input[end+1] != '(' {
		return "", "", false
	}

	balance = 0
	urlStart := end + 2
	urlEnd := -1
	for i := urlStart - 1; i < len(input); i++ {
		if input[i] == '(' {
			balance++
		} else if input[i] == ')' {
			balance--
			if balance == 0 {
				urlEnd = i
				break
			}
		}
	}
	if urlEnd == -1 {
		return "", "", false
	}

	url = input[urlStart:urlEnd]
	return label, url, true
}

// balanceParentheses truncates a URL at the point where its parentheses
// stop balancing.
func balanceParentheses(url string) string {
	balance := 0
	lastValidIndex := len(url)

	for i, ch := range url {
		if ch == '(' {
			balance++
		} else if ch == ')' {
			balance--
			if balance < 0 {
				return url[:i]
			} else if balance == 0 {
				lastValidIndex = i + 1
			}
		}
	}

	if balance > 0 {
		return url[:lastValidIndex]
	}

	return url
}

func renderFenceBlock(lines []string) string {
	if len(lines) == 0 {
		return "<pre><code></code></pre>"
	}
	return "<pre><code>" + html.EscapeString(strings.Join(lines, "\n")) + "</code></pre>"
}

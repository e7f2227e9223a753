package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultLimit is Telegram's maximum message length.
const DefaultLimit = 4096

var (
	fenceBlockRe  = regexp.MustCompile("(?s)```.*?```")
	headingMarkRe = regexp.MustCompile(`(?m)^#{2,4}\s+`)
	citationRe    = regexp.MustCompile(`【[^】]*】`)
	blockTokenRe  = regexp.MustCompile(`%%CODE_BLOCK_(\d+)%%`)
)

// Chunk splits a model reply into Telegram-sized messages. Fenced code
// blocks are kept intact, heading markers and citation tags are stripped,
// and remaining lines are packed greedily up to the limit. A fenced block
// longer than the limit becomes its own oversized chunk; that is the only
// case where a chunk may exceed the limit.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if text == "" {
		return nil
	}

	var blocks []string
	masked := fenceBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		token := fmt.Sprintf("%%%%CODE_BLOCK_%d%%%%", len(blocks))
		blocks = append(blocks, block)
		return token
	})

	masked = headingMarkRe.ReplaceAllString(masked, "")
	masked = citationRe.ReplaceAllString(masked, "")

	restore := func(s string) string {
		if len(blocks) == 0 {
			return s
		}
		return blockTokenRe.ReplaceAllStringFunc(s, func(token string) string {
			n, err := strconv.Atoi(blockTokenRe.FindStringSubmatch(token)[1])
			if err != nil || n >= len(blocks) {
				return token
			}
			return blocks[n]
		})
	}

	var chunks []string
	var cur []string
	curLen := 0

	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur = nil
			curLen = 0
		}
	}

	// effLen counts a line at the size it will have once its code-block
	// tokens are restored, so packing respects the post-restore limit.
	addLine := func(line string, effLen int) {
		if len(cur) == 0 {
			cur = append(cur, line)
			curLen = effLen
			return
		}
		if curLen+1+effLen > limit {
			flush()
			cur = append(cur, line)
			curLen = effLen
			return
		}
		cur = append(cur, line)
		curLen += 1 + effLen
	}

	for _, line := range strings.Split(masked, "\n") {
		effLen := len(restore(line))
		if effLen <= limit {
			addLine(line, effLen)
			continue
		}

		// A line carrying a code block never gets cut inside the block.
		if blockTokenRe.MatchString(line) {
			flush()
			chunks = append(chunks, line)
			continue
		}

		flush()
		rest := line
		for len(rest) > limit {
			cut := strings.LastIndexAny(rest[:limit], " \t")
			if cut <= 0 {
				cut = limit
			}
			// The whitespace stays with the remainder so concatenating
			// the chunks reproduces the line exactly.
			chunks = append(chunks, rest[:cut])
			rest = rest[cut:]
		}
		if rest != "" {
			addLine(rest, len(rest))
		}
	}
	flush()

	for i := range chunks {
		chunks[i] = restore(chunks[i])
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

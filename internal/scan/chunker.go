package scan

import "repoquery/internal/types"

// chunkText splits content into overlapping chunks of roughly size characters.
// Boundaries snap to line ends; the trailing overlap of one chunk reappears at
// the head of the next. Line numbers are 1-based and inclusive.
func chunkText(content string, node types.FileNode, size, overlap int) []types.CodeChunk {
	if content == "" {
		return nil
	}
	lines := splitLines(content)
	var out []types.CodeChunk

	var cur []string
	curSize := 0
	startLine := 1
	flush := func(endLine int) {
		if len(cur) == 0 {
			return
		}
		out = append(out, types.CodeChunk{
			FilePath:  node.Path,
			StartLine: startLine,
			EndLine:   endLine,
			Language:  node.Language,
			Content:   joinLines(cur),
		})
	}

	for i, line := range lines {
		lineSize := len(line) + 1
		if curSize+lineSize > size && len(cur) > 0 {
			flush(i) // lines[0..i-1] -> end line i (1-based, inclusive)

			// Carry the overlap tail into the next chunk.
			keep := 0
			kept := 0
			for j := len(cur) - 1; j >= 0; j-- {
				kept += len(cur[j]) + 1
				keep++
				if kept >= overlap {
					break
				}
			}
			if keep >= len(cur) {
				keep = len(cur) - 1
			}
			if keep < 0 {
				keep = 0
			}
			cur = append([]string(nil), cur[len(cur)-keep:]...)
			curSize = 0
			for _, l := range cur {
				curSize += len(l) + 1
			}
			startLine = i + 1 - keep
		}
		cur = append(cur, line)
		curSize += lineSize
	}
	flush(len(lines))
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func joinLines(lines []string) string {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	b := make([]byte, 0, n)
	for i, l := range lines {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, l...)
	}
	return string(b)
}

package telegram

import "strings"

// MessageLimit — максимальная длина сообщения Bot API в рунах.
const MessageLimit = 4096

// SplitMessage режет текст на части не длиннее limit рун.
// Граница ищется сначала по пустой строке, затем по переводу строки, затем по пробелу.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = appendChunk(parts, runes)
			break
		}
		cut := findCut(runes[:limit])
		parts = appendChunk(parts, runes[:cut])
		runes = trimLeftSpace(runes[cut:])
	}
	return parts
}

func findCut(window []rune) int {
	for _, sep := range [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")} {
		if i := lastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	return len(window)
}

func lastIndex(runes, sep []rune) int {
	for i := len(runes) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func appendChunk(parts []string, chunk []rune) []string {
	if s := strings.TrimSpace(string(chunk)); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func trimLeftSpace(runes []rune) []rune {
	for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
		runes = runes[1:]
	}
	return runes
}

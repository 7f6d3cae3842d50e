package services

import "strings"

const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdownV2 makes model output safe for Telegram's MarkdownV2 parse
// mode. Fenced blocks, inline code and [text](url) links are kept as markup;
// everything else is escaped literally.
func escapeMarkdownV2(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) + len(text)/8)

	for i := 0; i < len(text); {
		switch text[i] {
		case '`':
			if strings.HasPrefix(text[i:], "```") {
				if end := strings.Index(text[i+3:], "```"); end >= 0 {
					sb.WriteString("```")
					sb.WriteString(escapeCode(text[i+3 : i+3+end]))
					sb.WriteString("```")
					i += 3 + end + 3
					continue
				}
			}
			if end := strings.IndexByte(text[i+1:], '`'); end > 0 {
				sb.WriteByte('`')
				sb.WriteString(escapeCode(text[i+1 : i+1+end]))
				sb.WriteByte('`')
				i += 1 + end + 1
				continue
			}
		case '[':
			if label, url, n, ok := parseLink(text[i:]); ok {
				sb.WriteByte('[')
				sb.WriteString(escapePlain(label))
				sb.WriteString("](")
				sb.WriteString(escapeLinkURL(url))
				sb.WriteByte(')')
				i += n
				continue
			}
		}

		if strings.IndexByte(markdownV2Special, text[i]) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(text[i])
		i++
	}

	return sb.String()
}

// parseLink matches "[label](url)" at the start of s, allowing balanced
// parentheses inside url. n is the number of bytes consumed.
func parseLink(s string) (label, url string, n int, ok bool) {
	closeLabel := strings.IndexByte(s, ']')
	if closeLabel < 0 || closeLabel+1 >= len(s) || s[closeLabel+1] != '(' {
		return "", "", 0, false
	}

	start := closeLabel + 2
	depth := 1
	for j := start; j < len(s); j++ {
		switch s[j] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:closeLabel], s[start:j], j + 1, true
			}
		}
	}
	return "", "", 0, false
}

func escapePlain(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(markdownV2Special, s[i]) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func escapeCode(s string) string {
	return escapeOnly(s, "`\\")
}

func escapeLinkURL(s string) string {
	return escapeOnly(s, ")\\")
}

func escapeOnly(s, chars string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(chars, s[i]) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

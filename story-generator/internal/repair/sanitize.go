package repair

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// SanitizeJSON применяет дешевые синтаксические исправления к почти-валидному
// JSON: кавычки у неквотированных ключей, одинарные кавычки, висячие запятые,
// сырые управляющие символы внутри строк, недозакрытые скобки.
// Возвращает ошибку, если после всех проходов текст так и не парсится.
func SanitizeJSON(s string) (string, error) {
	if json.Valid([]byte(s)) {
		return s, nil
	}

	s = normalizeQuotes(s)
	s = escapeControlChars(s)
	s = quoteBareKeys(s)
	s = removeTrailingCommas(s)
	s = closeTruncated(s)

	if json.Valid([]byte(s)) {
		return s, nil
	}

	// Отдаем конкретную ошибку парсера - она пойдет в промпт fixer-модели
	var probe interface{}
	err := json.Unmarshal([]byte(s), &probe)
	return s, fmt.Errorf("json still invalid after sanitize: %w", err)
}

// normalizeQuotes заменяет типографские и одинарные кавычки на двойные
// там, где они ограничивают строки или ключи.
func normalizeQuotes(s string) string {
	// Типографские кавычки модели вставляют вместо обычных
	replacer := strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	s = replacer.Replace(s)

	var b strings.Builder
	inDouble := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			b.WriteByte(c)
			if inDouble {
				escaped = true
			}
		case '"':
			inDouble = !inDouble
			b.WriteByte(c)
		case '\'':
			if inDouble {
				b.WriteByte(c)
			} else {
				// Одинарная кавычка как ограничитель строки
				b.WriteByte('"')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// escapeControlChars экранирует сырые переводы строк и табы внутри строковых литералов.
func escapeControlChars(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inString:
			b.WriteRune(r)
			escaped = true
		case r == '"':
			inString = !inString
			b.WriteRune(r)
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString && r == '\r':
			b.WriteString(`\r`)
		case inString && r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// quoteBareKeys добавляет кавычки ключам, которые модель оставила без них:
// {key: 1} -> {"key": 1}.
func quoteBareKeys(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	expectKey := false

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inString:
			b.WriteRune(r)
			escaped = true
		case r == '"':
			inString = !inString
			expectKey = false
			b.WriteRune(r)
		case !inString && (r == '{' || r == ','):
			expectKey = true
			b.WriteRune(r)
		case !inString && r == '[':
			expectKey = false
			b.WriteRune(r)
		case !inString && expectKey && (unicode.IsLetter(r) || r == '_'):
			// Съедаем идентификатор до ':' и оборачиваем в кавычки
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			k := j
			for k < len(runes) && unicode.IsSpace(runes[k]) {
				k++
			}
			if k < len(runes) && runes[k] == ':' {
				b.WriteRune('"')
				b.WriteString(string(runes[i:j]))
				b.WriteRune('"')
				i = j - 1
				expectKey = false
			} else {
				// Не ключ (например true/false/null в массиве)
				b.WriteRune(r)
				expectKey = false
			}
		default:
			if !inString && !unicode.IsSpace(r) {
				expectKey = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// removeTrailingCommas убирает запятые перед закрывающими скобками.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	pendingComma := -1 // позиция в b, после которой записана висячая запятая

	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inString:
			b.WriteRune(r)
			escaped = true
		case r == '"':
			inString = !inString
			pendingComma = -1
			b.WriteRune(r)
		case !inString && r == ',':
			pendingComma = b.Len()
			b.WriteRune(r)
		case !inString && (r == '}' || r == ']'):
			if pendingComma >= 0 {
				// Переписываем буфер без последней запятой
				content := b.String()
				trimmed := content[:pendingComma] + strings.TrimLeft(content[pendingComma+1:], " \t\n\r")
				b.Reset()
				b.WriteString(trimmed)
			}
			pendingComma = -1
			b.WriteRune(r)
		default:
			if !inString && !unicode.IsSpace(r) {
				pendingComma = -1
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// closeTruncated дозакрывает строку и скобки оборванного ответа.
func closeTruncated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	// Хвостовая запятая перед дозакрытием невалидна
	s = strings.TrimRight(s, " \t\n\r")
	s = strings.TrimSuffix(s, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}

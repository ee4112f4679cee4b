package repair

import (
	"errors"
	"strings"
)

// ErrNoJSONFound - в тексте не найдено ни одного JSON-объекта или массива.
var ErrNoJSONFound = errors.New("no JSON object or array found in text")

// ExtractJSON убирает маркеры code-fence и окружающую прозу, возвращая первый
// сбалансированный JSON-объект или массив. Если открывающая скобка найдена,
// но баланс не сошелся (обрезанный ответ), возвращается остаток текста -
// закрытием скобок займется толерантная починка.
func ExtractJSON(text string) (string, error) {
	text = stripCodeFences(text)

	start := -1
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start == -1 {
		return "", ErrNoJSONFound
	}

	candidate := text[start:]

	// Идем по тексту с учетом строк и экранирования, ищем закрытие
	// первого открывшегося контейнера.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
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
			if inString {
				continue
			}
			if len(stack) == 0 {
				// Лишняя закрывающая скобка до открытия - отдаем как есть
				return candidate, nil
			}
			open := stack[len(stack)-1]
			if (c == '}' && open == '{') || (c == ']' && open == '[') {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return candidate[:i+1], nil
			}
		}
	}

	// Баланс не сошелся - ответ оборван
	return candidate, nil
}

// stripCodeFences удаляет маркдаун-ограждения вида ```json ... ```.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "```") {
		return text
	}

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

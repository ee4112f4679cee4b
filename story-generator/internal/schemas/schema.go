package schemas

import (
	"fmt"
	"sort"
	"strings"

	"taleweaver-server/shared/models"
)

// Kind - вид узла схемы.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindObject
	KindList
)

// Type - декларативное описание ожидаемой формы JSON.
// Дерево тегированных типов: Scalar(kind) | Object(fields) | List(elem).
type Type struct {
	Kind     Kind
	Fields   map[string]*Type // только для KindObject
	Elem     *Type            // только для KindList
	Optional bool             // поле может отсутствовать в объекте
}

func String() *Type { return &Type{Kind: KindString} }
func Number() *Type { return &Type{Kind: KindNumber} }
func Bool() *Type   { return &Type{Kind: KindBool} }

func Object(fields map[string]*Type) *Type {
	return &Type{Kind: KindObject, Fields: fields}
}

func List(elem *Type) *Type {
	return &Type{Kind: KindList, Elem: elem}
}

// Opt помечает тип как необязательное поле объекта.
func Opt(t *Type) *Type {
	c := *t
	c.Optional = true
	return &c
}

// Validate рекурсивно проверяет соответствие данных схеме.
// Возвращает *models.SchemaValidationError с путем до проблемного поля.
func Validate(data interface{}, t *Type) error {
	return validateAt(data, t, "")
}

func validateAt(data interface{}, t *Type, path string) error {
	switch t.Kind {
	case KindString:
		if _, ok := data.(string); !ok {
			return &models.SchemaValidationError{Path: path, Message: fmt.Sprintf("expected string, got %T", data)}
		}
	case KindNumber:
		// encoding/json декодирует все числа в float64
		switch data.(type) {
		case float64, int:
		default:
			return &models.SchemaValidationError{Path: path, Message: fmt.Sprintf("expected number, got %T", data)}
		}
	case KindBool:
		if _, ok := data.(bool); !ok {
			return &models.SchemaValidationError{Path: path, Message: fmt.Sprintf("expected bool, got %T", data)}
		}
	case KindObject:
		obj, ok := data.(map[string]interface{})
		if !ok {
			return &models.SchemaValidationError{Path: path, Message: fmt.Sprintf("expected object, got %T", data)}
		}
		for key, fieldType := range t.Fields {
			value, present := obj[key]
			if !present {
				if fieldType.Optional {
					continue
				}
				return &models.SchemaValidationError{Path: joinPath(path, key), Message: "required key is missing"}
			}
			if err := validateAt(value, fieldType, joinPath(path, key)); err != nil {
				return err
			}
		}
	case KindList:
		list, ok := data.([]interface{})
		if !ok {
			return &models.SchemaValidationError{Path: path, Message: fmt.Sprintf("expected list, got %T", data)}
		}
		for i, item := range list {
			if err := validateAt(item, t.Elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		return &models.SchemaValidationError{Path: path, Message: "unknown schema kind"}
	}
	return nil
}

// WrapLists рекурсивно оборачивает скалярные/объектные значения в одноэлементный
// список там, где схема объявляет список. Это известная допустимая lossy-коррекция
// для ответов модели вида {"tags": "x"} вместо {"tags": ["x"]}.
// Поля, не объявленные списками, никогда не трогаются.
func WrapLists(data interface{}, t *Type) interface{} {
	switch t.Kind {
	case KindList:
		list, ok := data.([]interface{})
		if !ok {
			// Скаляр или объект на месте списка - оборачиваем
			list = []interface{}{data}
		}
		for i, item := range list {
			list[i] = WrapLists(item, t.Elem)
		}
		return list
	case KindObject:
		obj, ok := data.(map[string]interface{})
		if !ok {
			return data
		}
		for key, fieldType := range t.Fields {
			if value, present := obj[key]; present {
				obj[key] = WrapLists(value, fieldType)
			}
		}
		return obj
	default:
		return data
	}
}

// Describe рендерит схему в компактный JSON-подобный текст для промпта fixer-модели.
func (t *Type) Describe() string {
	var b strings.Builder
	describe(t, &b)
	return b.String()
}

func describe(t *Type, b *strings.Builder) {
	switch t.Kind {
	case KindString:
		b.WriteString("\"string\"")
	case KindNumber:
		b.WriteString("number")
	case KindBool:
		b.WriteString("boolean")
	case KindList:
		b.WriteString("[")
		describe(t.Elem, b)
		b.WriteString("]")
	case KindObject:
		// Детерминированный порядок ключей, чтобы промпты были воспроизводимыми
		keys := make([]string, 0, len(t.Fields))
		for k := range t.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%q: ", k)
			describe(t.Fields[k], b)
			if t.Fields[k].Optional {
				b.WriteString(" /* optional */")
			}
		}
		b.WriteString("}")
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

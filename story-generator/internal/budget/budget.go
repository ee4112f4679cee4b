package budget

import "math"

// Имена компонентов промпта изображения.
const (
	ComponentBaseStyle  = "base_style"
	ComponentScene      = "scene"
	ComponentCharacters = "characters"
	ComponentAtmosphere = "atmosphere"
	ComponentTechnical  = "technical"
)

// DefaultWeights - фиксированные доли бюджета по компонентам. Сумма = 1.0.
var DefaultWeights = map[string]float64{
	ComponentBaseStyle:  0.25,
	ComponentScene:      0.35,
	ComponentCharacters: 0.20,
	ComponentAtmosphere: 0.10,
	ComponentTechnical:  0.10,
}

// GeneralPromptCeiling - общий верхний предел длины промпта (в символах),
// применяется когда модель неизвестна.
const GeneralPromptCeiling = 2000

// ModelLimits - лимиты длины промпта конкретной модели.
type ModelLimits struct {
	MaxLength     int
	OptimalLength int
}

// Статическая таблица лимитов по моделям генерации изображений.
var modelLimits = map[string]ModelLimits{
	"sana-sprint":    {MaxLength: 1500, OptimalLength: 900},
	"sdxl":           {MaxLength: 1200, OptimalLength: 700},
	"flux-schnell":   {MaxLength: 1800, OptimalLength: 1000},
	"kandinsky-3":    {MaxLength: 1024, OptimalLength: 600},
	"dall-e-3":       {MaxLength: 4000, OptimalLength: 1500},
	"playground-v25": {MaxLength: 1000, OptimalLength: 600},
}

// Allocate распределяет общий бюджет символов между компонентами по весам.
// limit = floor(total * weight); округление вниз может оставить часть
// бюджета неиспользованной, но никогда не превысит его.
// Чистая детерминированная функция.
func Allocate(total int, weights map[string]float64) map[string]int {
	if total < 0 {
		total = 0
	}
	out := make(map[string]int, len(weights))
	for name, w := range weights {
		out[name] = int(math.Floor(float64(total) * w))
	}
	return out
}

// LimitsFor возвращает лимиты для именованной модели. Для неизвестной модели
// действует общий потолок.
func LimitsFor(model string) ModelLimits {
	if l, ok := modelLimits[model]; ok {
		return l
	}
	return ModelLimits{MaxLength: GeneralPromptCeiling, OptimalLength: GeneralPromptCeiling / 2}
}

// Truncate обрезает строку до limit символов (рун). Возвращает результат и
// признак того, что обрезка произошла. Обрезка - деградация, не ошибка;
// логирование на вызывающей стороне.
func Truncate(s string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}

package models

// ChildProfile - профиль ребенка/главного героя, извлеченный из промпта.
type ChildProfile struct {
	Name       string   `json:"name"`
	Age        int      `json:"age"`
	Traits     []string `json:"traits"`
	Appearance string   `json:"appearance"`
}

// SideCharacter - опциональный второстепенный персонаж.
type SideCharacter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StoryMeta - метаданные истории.
type StoryMeta struct {
	Title      string `json:"title"`
	Theme      string `json:"theme"`
	Tone       string `json:"tone"`
	Setting    string `json:"setting"`
	SceneCount int    `json:"scene_count"`
}

// StoryBeat - одна нарративная единица истории до обогащения медиа.
// Поля ImagePrompt/ImageURL/AudioURL заполняются пайплайном сцен;
// остальные поля после валидации не мутируются.
type StoryBeat struct {
	Index int      `json:"index"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags"`

	// Производные поля (заполняются медиа-пайплайном)
	ImagePrompt string `json:"image_prompt,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
}

// StructuredStory - валидированные структурированные данные истории,
// результат работы движка починки и валидации.
type StructuredStory struct {
	Child         ChildProfile   `json:"child_profile"`
	SideCharacter *SideCharacter `json:"side_character,omitempty"`
	Meta          StoryMeta      `json:"story_meta"`
	Beats         []StoryBeat    `json:"beats"`
}

// VisualProfile - визуальные описания персонажей для промптов изображений.
type VisualProfile struct {
	Characters []CharacterVisual `json:"characters"`
}

// CharacterVisual - визуальное описание одного персонажа.
type CharacterVisual struct {
	Name       string `json:"name"`
	Appearance string `json:"appearance"`
	Outfit     string `json:"outfit"`
}

// Describe склеивает визуальные описания персонажей в один компонент промпта.
func (p VisualProfile) Describe() string {
	out := ""
	for i, c := range p.Characters {
		if i > 0 {
			out += "; "
		}
		out += c.Name + ": " + c.Appearance
		if c.Outfit != "" {
			out += ", wearing " + c.Outfit
		}
	}
	return out
}

// BaseStyle - базовый визуальный стиль истории, общий для всех сцен.
type BaseStyle struct {
	Style      string `json:"base_style"`
	Atmosphere string `json:"atmosphere"`
}

// SceneMoment - описание визуального момента одной сцены.
type SceneMoment struct {
	PrimaryAction      string `json:"primary_action"`
	EmotionalState     string `json:"emotional_state"`
	SpatialArrangement string `json:"spatial_arrangement"`
}

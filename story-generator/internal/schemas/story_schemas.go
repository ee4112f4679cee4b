package schemas

// Фиксированные схемы ответов генеративной модели. Ключи соответствуют
// json-тегам структур в shared/models.

// StorySchema - полная структура истории: профиль героя, метаданные, биты.
func StorySchema() *Type {
	return Object(map[string]*Type{
		"child_profile": Object(map[string]*Type{
			"name":       String(),
			"age":        Number(),
			"traits":     List(String()),
			"appearance": String(),
		}),
		"side_character": Opt(Object(map[string]*Type{
			"name":        String(),
			"description": String(),
		})),
		"story_meta": Object(map[string]*Type{
			"title":       String(),
			"theme":       String(),
			"tone":        String(),
			"setting":     String(),
			"scene_count": Number(),
		}),
		"beats": List(Object(map[string]*Type{
			"index": Number(),
			"text":  String(),
			"tags":  List(String()),
		})),
	})
}

// VisualProfileSchema - визуальные описания персонажей.
func VisualProfileSchema() *Type {
	return Object(map[string]*Type{
		"characters": List(Object(map[string]*Type{
			"name":       String(),
			"appearance": String(),
			"outfit":     String(),
		})),
	})
}

// BaseStyleSchema - базовый визуальный стиль и атмосфера.
func BaseStyleSchema() *Type {
	return Object(map[string]*Type{
		"base_style": String(),
		"atmosphere": String(),
	})
}

// SceneMomentSchema - визуальный момент одной сцены.
func SceneMomentSchema() *Type {
	return Object(map[string]*Type{
		"primary_action":      String(),
		"emotional_state":     String(),
		"spatial_arrangement": String(),
	})
}

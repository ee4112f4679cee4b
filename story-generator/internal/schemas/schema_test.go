package schemas_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/schemas"
)

func mustUnmarshal(t *testing.T, raw string) interface{} {
	t.Helper()
	var data interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return data
}

func TestValidate_Scalars(t *testing.T) {
	assert.NoError(t, schemas.Validate("hello", schemas.String()))
	assert.NoError(t, schemas.Validate(float64(5), schemas.Number()))
	assert.NoError(t, schemas.Validate(true, schemas.Bool()))

	err := schemas.Validate(float64(5), schemas.String())
	require.Error(t, err)
	var valErr *models.SchemaValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestValidate_MissingRequiredKeyHasPath(t *testing.T) {
	schema := schemas.Object(map[string]*schemas.Type{
		"meta": schemas.Object(map[string]*schemas.Type{
			"title": schemas.String(),
		}),
	})
	data := mustUnmarshal(t, `{"meta": {}}`)

	err := schemas.Validate(data, schema)
	require.Error(t, err)

	var valErr *models.SchemaValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "meta.title", valErr.Path)
	assert.Contains(t, valErr.Message, "missing")
}

func TestValidate_ListElementPath(t *testing.T) {
	schema := schemas.Object(map[string]*schemas.Type{
		"beats": schemas.List(schemas.Object(map[string]*schemas.Type{
			"text": schemas.String(),
		})),
	})
	data := mustUnmarshal(t, `{"beats": [{"text": "ok"}, {"text": 42}]}`)

	err := schemas.Validate(data, schema)
	require.Error(t, err)

	var valErr *models.SchemaValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "beats[1].text", valErr.Path)
}

func TestValidate_OptionalFieldMayBeAbsent(t *testing.T) {
	schema := schemas.Object(map[string]*schemas.Type{
		"name":           schemas.String(),
		"side_character": schemas.Opt(schemas.Object(map[string]*schemas.Type{"name": schemas.String()})),
	})

	assert.NoError(t, schemas.Validate(mustUnmarshal(t, `{"name": "Мила"}`), schema))

	// Присутствующее опциональное поле все равно проверяется
	err := schemas.Validate(mustUnmarshal(t, `{"name": "Мила", "side_character": {"name": 1}}`), schema)
	require.Error(t, err)
	var valErr *models.SchemaValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "side_character.name", valErr.Path)
}

func TestWrapLists_SingleElementCorrection(t *testing.T) {
	schema := schemas.Object(map[string]*schemas.Type{
		"tags": schemas.List(schemas.String()),
	})
	data := mustUnmarshal(t, `{"tags": "forest"}`)

	wrapped := schemas.WrapLists(data, schema)

	require.NoError(t, schemas.Validate(wrapped, schema))
	obj := wrapped.(map[string]interface{})
	assert.Equal(t, []interface{}{"forest"}, obj["tags"])
}

func TestWrapLists_DoesNotTouchNonListFields(t *testing.T) {
	schema := schemas.Object(map[string]*schemas.Type{
		"title": schemas.String(),
	})
	data := mustUnmarshal(t, `{"title": "Дракон"}`)

	wrapped := schemas.WrapLists(data, schema)

	obj := wrapped.(map[string]interface{})
	assert.Equal(t, "Дракон", obj["title"])
}

func TestWrapLists_Recursive(t *testing.T) {
	schema := schemas.Object(map[string]*schemas.Type{
		"beats": schemas.List(schemas.Object(map[string]*schemas.Type{
			"tags": schemas.List(schemas.String()),
		})),
	})
	// И сам список битов, и вложенный список тегов даны скалярами
	data := mustUnmarshal(t, `{"beats": {"tags": "cave"}}`)

	wrapped := schemas.WrapLists(data, schema)
	require.NoError(t, schemas.Validate(wrapped, schema))
}

func TestStorySchema_AcceptsWellFormedStory(t *testing.T) {
	raw := `{
		"child_profile": {"name": "Ira", "age": 5, "traits": ["brave"], "appearance": "curly red hair"},
		"story_meta": {"title": "The Little Dragon", "theme": "friendship", "tone": "warm", "setting": "mountain village", "scene_count": 2},
		"beats": [
			{"index": 0, "text": "Once upon a time...", "tags": ["intro"], "image_prompt": "a village at dawn"},
			{"index": 1, "text": "And they flew home.", "tags": ["ending"], "image_prompt": "flying over mountains"}
		]
	}`

	assert.NoError(t, schemas.Validate(mustUnmarshal(t, raw), schemas.StorySchema()))
}

func TestDescribe_Deterministic(t *testing.T) {
	schema := schemas.StorySchema()
	assert.Equal(t, schema.Describe(), schema.Describe())
	assert.Contains(t, schema.Describe(), "child_profile")
}

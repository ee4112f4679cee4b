package service

import (
	"fmt"
	"strings"

	"taleweaver-server/shared/models"
)

// Системные промпты. Схемы в промптах должны совпадать со схемами
// в internal/schemas - валидатор проверяет именно их.
const (
	storySystemPrompt = `You are an experienced children's story writer. Based on the user's request you create a complete illustrated story plan.
Respond with ONLY a JSON object, no commentary, matching exactly:
{"child_profile": {"name": "...", "age": 6, "traits": ["..."], "appearance": "..."},
 "side_character": {"name": "...", "description": "..."},
 "story_meta": {"title": "...", "theme": "...", "tone": "...", "setting": "...", "scene_count": N},
 "beats": [{"index": 0, "text": "...", "tags": ["..."]}]}
The beats array must contain exactly the requested number of scenes, index starting at 0.
Each beat text is 2-4 sentences of narration suitable for reading aloud to a child.`

	visualProfileSystemPrompt = `You are an art director for children's book illustrations.
Given character descriptions, respond with ONLY a JSON object:
{"characters": [{"name": "...", "appearance": "...", "outfit": "..."}]}
Appearance and outfit must be concise, concrete and visually consistent across all scenes.`

	baseStyleSystemPrompt = `You are an art director for children's book illustrations.
Given a story setting and tone, respond with ONLY a JSON object:
{"base_style": "...", "atmosphere": "..."}
base_style describes the illustration technique and palette, atmosphere the lighting and mood.`

	sceneMomentSystemPrompt = `You are an illustrator choosing the key visual moment of a scene.
Given scene narration and story context, respond with ONLY a JSON object:
{"primary_action": "...", "emotional_state": "...", "spatial_arrangement": "..."}
Each value is one short visual phrase, no full sentences.`

	fixerSystemPrompt = `You are a strict JSON repair tool. You receive broken or non-conformant JSON together with the error and, when given, the required schema. You respond with ONLY the corrected JSON. Never add commentary, markdown or code fences.`
)

// Фиксированные суффиксы промпта изображения.
const (
	// techQualitySuffix - компонент "technical" бюджета промпта.
	techQualitySuffix = "high quality children's book illustration, clean lines, rich colors, no text, no watermark"

	// childSafetySuffix добавляется к КАЖДОМУ промпту изображения безусловно
	// и не участвует в бюджете.
	childSafetySuffix = " Safe for children: gentle, friendly, no violence, no scary imagery."
)

func buildStoryUserPrompt(req models.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story request: %s\n", req.Prompt)
	if req.Title != "" {
		fmt.Fprintf(&b, "Preferred title: %s\n", req.Title)
	}
	fmt.Fprintf(&b, "Number of scenes: %d\n", req.NumScenes)
	return b.String()
}

func buildVisualProfileUserPrompt(child models.ChildProfile, side *models.SideCharacter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Main character: %s, age %d. Appearance: %s. Traits: %s.\n",
		child.Name, child.Age, child.Appearance, strings.Join(child.Traits, ", "))
	if side != nil {
		fmt.Fprintf(&b, "Side character: %s. %s\n", side.Name, side.Description)
	}
	return b.String()
}

func buildBaseStyleUserPrompt(meta models.StoryMeta) string {
	return fmt.Sprintf("Setting: %s\nTone: %s\nTheme: %s\n", meta.Setting, meta.Tone, meta.Theme)
}

func buildSceneMomentUserPrompt(beat models.StoryBeat, storyContext string) string {
	var b strings.Builder
	if storyContext != "" {
		fmt.Fprintf(&b, "Story so far:\n%s\n\n", storyContext)
	}
	fmt.Fprintf(&b, "Scene %d narration:\n%s\n", beat.Index+1, beat.Text)
	if len(beat.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(beat.Tags, ", "))
	}
	return b.String()
}

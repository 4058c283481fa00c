package domain

import "strings"

// SceneKind enumerates the supported scene framings.
type SceneKind string

const (
	SceneKindPortrait   SceneKind = "portrait"
	SceneKindFullBody   SceneKind = "full_body"
	SceneKindStoryScene SceneKind = "story_scene"
)

// NormalizeSceneKind sanitizes free-form input into a supported scene kind.
func NormalizeSceneKind(kind string) SceneKind {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case string(SceneKindFullBody), "full-body", "fullbody":
		return SceneKindFullBody
	case string(SceneKindStoryScene), "story-scene", "scene":
		return SceneKindStoryScene
	default:
		return SceneKindPortrait
	}
}

// Package prefs reconciles the flat remote preference records into one typed,
// always-complete preference set. Defaults are implicit: a field with no
// remote record carries its default value, and resetting a category is just
// deleting its records.
package prefs

import (
	"encoding/json"
	"time"

	"github.com/nimbusdesk/nimbusdesk/pkg/models"
)

const (
	CategoryTheme   = "theme"
	CategoryAI      = "ai"
	CategorySpeech  = "speech"
	CategoryEmail   = "email"
	CategoryFiles   = "files"
	CategoryGeneral = "general"
)

// Categories lists every known preference category.
var Categories = []string{
	CategoryTheme, CategoryAI, CategorySpeech,
	CategoryEmail, CategoryFiles, CategoryGeneral,
}

// ThemePrefs controls appearance.
type ThemePrefs struct {
	Mode        string `json:"mode"`
	AccentColor string `json:"accentColor"`
	FontSize    int    `json:"fontSize"`
}

// AIPrefs controls the chat model defaults.
type AIPrefs struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
	SystemPrompt string  `json:"systemPrompt"`
}

// SpeechPrefs controls text-to-speech output.
type SpeechPrefs struct {
	Voice  string  `json:"voice"`
	Speed  float64 `json:"speed"`
	Format string  `json:"format"`
}

// EmailPrefs controls composing behavior.
type EmailPrefs struct {
	Signature      string `json:"signature"`
	DefaultFrom    string `json:"defaultFrom"`
	AutoSaveDrafts bool   `json:"autoSaveDrafts"`
}

// FilesPrefs controls the file library view.
type FilesPrefs struct {
	ViewMode    string `json:"viewMode"`
	SortBy      string `json:"sortBy"`
	ShowDeleted bool   `json:"showDeleted"`
}

// GeneralPrefs are cross-cutting client settings.
type GeneralPrefs struct {
	Language             string `json:"language"`
	SendOnEnter          bool   `json:"sendOnEnter"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// PreferenceSet is the complete typed view. Every field always has a value:
// either the reconciled remote one or the default.
type PreferenceSet struct {
	Theme   ThemePrefs   `json:"theme"`
	AI      AIPrefs      `json:"ai"`
	Speech  SpeechPrefs  `json:"speech"`
	Email   EmailPrefs   `json:"email"`
	Files   FilesPrefs   `json:"files"`
	General GeneralPrefs `json:"general"`
}

// Defaults returns the baseline set every reconciliation starts from.
func Defaults() PreferenceSet {
	return PreferenceSet{
		Theme: ThemePrefs{
			Mode:        "dark",
			AccentColor: "#4f46e5",
			FontSize:    14,
		},
		AI: AIPrefs{
			Model:        "gpt-4o-mini",
			Temperature:  0.7,
			MaxTokens:    2048,
			SystemPrompt: "",
		},
		Speech: SpeechPrefs{
			Voice:  "alloy",
			Speed:  1.0,
			Format: "mp3",
		},
		Email: EmailPrefs{
			Signature:      "",
			DefaultFrom:    "",
			AutoSaveDrafts: true,
		},
		Files: FilesPrefs{
			ViewMode:    "grid",
			SortBy:      "uploaded_at",
			ShowDeleted: false,
		},
		General: GeneralPrefs{
			Language:             "en",
			SendOnEnter:          true,
			NotificationsEnabled: true,
		},
	}
}

// ValueEnvelope is the wire form of one preference value. The embedded update
// time is what duplicate records are resolved by.
type ValueEnvelope struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Record is the flat remote form: one row per (category, key) pair. The set
// is derived from these rows; rows never hold structure.
type Record struct {
	models.RecordMeta
	Category string        `json:"category"`
	Key      string        `json:"key"`
	Value    ValueEnvelope `json:"value"`
}

// effectiveUpdatedAt prefers the envelope's update time, falling back to the
// record row's when a writer omitted it.
func (r Record) effectiveUpdatedAt() time.Time {
	if !r.Value.UpdatedAt.IsZero() {
		return r.Value.UpdatedAt
	}
	return r.UpdatedAt
}

// supersedes reports whether r wins over prev when both address the same
// (category, key). Greater update time wins; equal times break the tie by
// record key so the outcome never depends on input order.
func (r Record) supersedes(prev Record) bool {
	rt, pt := r.effectiveUpdatedAt(), prev.effectiveUpdatedAt()
	if !rt.Equal(pt) {
		return rt.After(pt)
	}
	return r.RecordKey > prev.RecordKey
}

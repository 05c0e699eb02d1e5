package prefs

import (
	"encoding/json"
	"fmt"
	"sort"
)

// field binds one (category, key) pair to its typed slot in a PreferenceSet.
// set decodes and validates a raw JSON value; get reads the current value for
// flattening and export.
type field struct {
	set func(*PreferenceSet, json.RawMessage) error
	get func(*PreferenceSet) any
}

func stringField(slot func(*PreferenceSet) *string) field {
	return field{
		set: func(p *PreferenceSet, raw json.RawMessage) error {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("expected string: %w", err)
			}
			*slot(p) = v
			return nil
		},
		get: func(p *PreferenceSet) any { return *slot(p) },
	}
}

func intField(slot func(*PreferenceSet) *int) field {
	return field{
		set: func(p *PreferenceSet, raw json.RawMessage) error {
			var v int
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("expected integer: %w", err)
			}
			*slot(p) = v
			return nil
		},
		get: func(p *PreferenceSet) any { return *slot(p) },
	}
}

func floatField(slot func(*PreferenceSet) *float64) field {
	return field{
		set: func(p *PreferenceSet, raw json.RawMessage) error {
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("expected number: %w", err)
			}
			*slot(p) = v
			return nil
		},
		get: func(p *PreferenceSet) any { return *slot(p) },
	}
}

func boolField(slot func(*PreferenceSet) *bool) field {
	return field{
		set: func(p *PreferenceSet, raw json.RawMessage) error {
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("expected boolean: %w", err)
			}
			*slot(p) = v
			return nil
		},
		get: func(p *PreferenceSet) any { return *slot(p) },
	}
}

// schema is the full catalog of known preference fields. Records whose
// (category, key) is not listed here are ignored during reconciliation and
// rejected on write.
var schema = map[string]map[string]field{
	CategoryTheme: {
		"mode":        stringField(func(p *PreferenceSet) *string { return &p.Theme.Mode }),
		"accentColor": stringField(func(p *PreferenceSet) *string { return &p.Theme.AccentColor }),
		"fontSize":    intField(func(p *PreferenceSet) *int { return &p.Theme.FontSize }),
	},
	CategoryAI: {
		"model":        stringField(func(p *PreferenceSet) *string { return &p.AI.Model }),
		"temperature":  floatField(func(p *PreferenceSet) *float64 { return &p.AI.Temperature }),
		"maxTokens":    intField(func(p *PreferenceSet) *int { return &p.AI.MaxTokens }),
		"systemPrompt": stringField(func(p *PreferenceSet) *string { return &p.AI.SystemPrompt }),
	},
	CategorySpeech: {
		"voice":  stringField(func(p *PreferenceSet) *string { return &p.Speech.Voice }),
		"speed":  floatField(func(p *PreferenceSet) *float64 { return &p.Speech.Speed }),
		"format": stringField(func(p *PreferenceSet) *string { return &p.Speech.Format }),
	},
	CategoryEmail: {
		"signature":      stringField(func(p *PreferenceSet) *string { return &p.Email.Signature }),
		"defaultFrom":    stringField(func(p *PreferenceSet) *string { return &p.Email.DefaultFrom }),
		"autoSaveDrafts": boolField(func(p *PreferenceSet) *bool { return &p.Email.AutoSaveDrafts }),
	},
	CategoryFiles: {
		"viewMode":    stringField(func(p *PreferenceSet) *string { return &p.Files.ViewMode }),
		"sortBy":      stringField(func(p *PreferenceSet) *string { return &p.Files.SortBy }),
		"showDeleted": boolField(func(p *PreferenceSet) *bool { return &p.Files.ShowDeleted }),
	},
	CategoryGeneral: {
		"language":             stringField(func(p *PreferenceSet) *string { return &p.General.Language }),
		"sendOnEnter":          boolField(func(p *PreferenceSet) *bool { return &p.General.SendOnEnter }),
		"notificationsEnabled": boolField(func(p *PreferenceSet) *bool { return &p.General.NotificationsEnabled }),
	},
}

func lookupField(category, key string) (field, bool) {
	cat, ok := schema[category]
	if !ok {
		return field{}, false
	}
	f, ok := cat[key]
	return f, ok
}

// Reconcile folds the flat records over the defaults and returns the complete
// set. Unknown pairs and undecodable values are skipped, and duplicates for
// the same pair resolve to the record with the greatest update time (ties
// broken by record key), so the result is the same regardless of input order.
func Reconcile(records []Record) PreferenceSet {
	winners := make(map[string]Record, len(records))
	for _, r := range records {
		if _, known := lookupField(r.Category, r.Key); !known {
			continue
		}
		addr := r.Category + "/" + r.Key
		if prev, ok := winners[addr]; ok && !r.supersedes(prev) {
			continue
		}
		winners[addr] = r
	}

	set := Defaults()
	for _, r := range winners {
		f, _ := lookupField(r.Category, r.Key)
		if err := f.set(&set, r.Value.Value); err != nil {
			continue
		}
	}
	return set
}

// FieldValue is one flattened (category, key, value) triple.
type FieldValue struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    any    `json:"value"`
}

// Flatten expands a set into one triple per known field.
func Flatten(set PreferenceSet) []FieldValue {
	out := make([]FieldValue, 0, 20)
	for _, category := range Categories {
		keys := sortedKeys(schema[category])
		for _, key := range keys {
			f := schema[category][key]
			out = append(out, FieldValue{Category: category, Key: key, Value: f.get(&set)})
		}
	}
	return out
}

func sortedKeys(m map[string]field) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

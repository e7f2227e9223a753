package domain

// DefaultModel is assigned to first-contact users.
const DefaultModel = "gpt-4o-mini"

// ModelInfo describes one selectable model. Label is the short display name
// used in /info; the chat prefix shown before replies derives from it.
type ModelInfo struct {
	ID             string
	Label          string
	Mode           Mode
	SupportsSystem bool
	HighReasoning  bool
}

// catalog lists every model the bot exposes. Switching to an image or
// assistant entry also switches the conversation mode.
var catalog = []ModelInfo{
	{ID: "gpt-4o-mini", Label: "4o mini", Mode: ModeChat, SupportsSystem: true},
	{ID: "gpt-4o", Label: "4o", Mode: ModeChat, SupportsSystem: true},
	{ID: "o1-mini", Label: "o1 mini", Mode: ModeChat},
	{ID: "o1-preview", Label: "o1 preview", Mode: ModeChat},
	{ID: "o3-mini", Label: "o3 mini", Mode: ModeChat, HighReasoning: true},
	{ID: "dall-e-3", Label: "DALL-E 3", Mode: ModeImage},
	{ID: "assistant", Label: "Assistant", Mode: ModeAssistant},
}

// LookupModel returns the catalog entry for a model id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ModelIDs returns the selectable model ids in catalog order.
func ModelIDs() []string {
	ids := make([]string, 0, len(catalog))
	for _, m := range catalog {
		ids = append(ids, m.ID)
	}
	return ids
}

// ApplyModel switches a record to the given model, keeping mode, label and
// reply prefix in sync. Unknown ids fall back to the default model.
func ApplyModel(rec *UserRecord, id string) {
	info, ok := LookupModel(id)
	if !ok {
		info, _ = LookupModel(DefaultModel)
	}
	rec.Model = info.ID
	rec.Mode = info.Mode
	rec.Label = info.Label
	rec.ChatPrefix = info.Label + ":"
}

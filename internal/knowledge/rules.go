package knowledge

import (
	"github.com/hpungsan/hyperknow/internal/accumulator"
	"github.com/hpungsan/hyperknow/internal/capability"
)

// Slot names derived from the built-in capabilities.
const (
	SlotUserLevel       = "user_level"
	SlotUserContext     = "user_context"
	SlotAvailableTitles = "available_titles"
	SlotSearchKeywords  = "search_keywords"
)

// SlotRules derives the planner and packager slots from built-in findings.
// The user level is required; the title list may shrink to a count and sample.
func SlotRules() accumulator.Rules {
	return accumulator.Rules{
		capability.ProfileLookup: func(f accumulator.Finding) []accumulator.Slot {
			slots := []accumulator.Slot{{
				Name:     SlotUserLevel,
				Value:    f.Facts["level"],
				Required: true,
				Priority: accumulator.High,
			}}
			if desc, _ := f.Facts["description"].(string); desc != "" && desc != NoMemoryMessage {
				slots = append(slots, accumulator.Slot{Name: SlotUserContext, Value: desc, Priority: accumulator.Low})
			}
			return slots
		},
		capability.TitleSearch: func(f accumulator.Finding) []accumulator.Slot {
			return []accumulator.Slot{
				{Name: SlotAvailableTitles, Value: f.Facts["titles"], Priority: accumulator.High, Reducible: true},
				{Name: SlotSearchKeywords, Value: f.Facts["keywords"], Priority: accumulator.Low},
			}
		},
	}
}

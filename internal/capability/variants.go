package capability

// The built-in capabilities form a closed set of variants. Each has a typed
// request and response; the registry still dispatches by name, but arguments
// are checked against these types at the boundary.

// ProfileQuery is the input of profile-lookup.
type ProfileQuery struct {
	Category string `json:"category"`
}

// ProfileResult is the output of profile-lookup. Found=false is a declared
// failure value, not an error.
type ProfileResult struct {
	Category    string `json:"category"`
	Level       string `json:"level"`
	Description string `json:"description,omitempty"`
	Found       bool   `json:"found"`
}

// TitleQuery is the input of title-search.
type TitleQuery struct {
	Keywords []string `json:"keywords"`
	Limit    int      `json:"limit,omitempty"`
}

// TitleResult is the output of title-search: titles only, never content.
type TitleResult struct {
	Titles []string `json:"titles"`
	Count  int      `json:"count"`
}

// GenerateInput is the input of generate. Context carries the delegation
// payload's structured context; Titles and UserContext may be given directly
// by nested calls.
type GenerateInput struct {
	Instruction string         `json:"instruction"`
	Context     map[string]any `json:"context,omitempty"`
	Titles      []string       `json:"titles,omitempty"`
	UserContext string         `json:"user_context,omitempty"`
	BudgetHint  int            `json:"budget_hint"`
}

// GenerateResult is the output of generate.
type GenerateResult struct {
	Text        string `json:"text"`
	NestedCalls int    `json:"nested_calls"`
}

// ProfileLookupDescriptor returns the catalog entry for profile-lookup.
func ProfileLookupDescriptor() Descriptor {
	return Descriptor{
		Name:        ProfileLookup,
		Description: "Look up the user's knowledge level for a category",
		Input:       Schema{{Name: "category", Type: "string", Required: true}},
		Output: Schema{
			{Name: "category", Type: "string", Required: true},
			{Name: "level", Type: "string", Required: true},
			{Name: "description", Type: "string"},
			{Name: "found", Type: "bool", Required: true},
		},
		Cost: Cheap,
	}
}

// TitleSearchDescriptor returns the catalog entry for title-search.
func TitleSearchDescriptor() Descriptor {
	return Descriptor{
		Name:        TitleSearch,
		Description: "Search document titles by keyword; returns titles only",
		Input: Schema{
			{Name: "keywords", Type: "[]string", Required: true},
			{Name: "limit", Type: "int"},
		},
		Output: Schema{
			{Name: "titles", Type: "[]string", Required: true},
			{Name: "count", Type: "int", Required: true},
		},
		Cost: Moderate,
	}
}

// GenerateDescriptor returns the catalog entry for generate.
func GenerateDescriptor() Descriptor {
	return Descriptor{
		Name:        Generate,
		Description: "Generate the final answer from an instruction, document titles and user context",
		Input: Schema{
			{Name: "instruction", Type: "string", Required: true},
			{Name: "context", Type: "object"},
			{Name: "titles", Type: "[]string"},
			{Name: "user_context", Type: "string"},
			{Name: "budget_hint", Type: "int", Required: true},
		},
		Output: Schema{
			{Name: "text", Type: "string", Required: true},
			{Name: "nested_calls", Type: "int"},
		},
		Cost: Expensive,
	}
}

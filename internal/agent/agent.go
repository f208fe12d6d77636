package agent

// Profile describes a specialized agent: what it does, which model backs it,
// and how it should be prompted.
type Profile struct {
	ID             string
	Role           string
	Capabilities   []string
	Model          string
	Temperature    float64
	MaxTokens      int
	PromptTemplate string
	Active         bool
}

// HasCapability reports whether the profile lists the given capability.
func (p Profile) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

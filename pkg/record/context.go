package record

import "fmt"

// Context classifies a memory record. The set is fixed; Store rejects
// anything outside it.
type Context string

const (
	ContextGeneral      Context = "general"
	ContextPreference   Context = "preference"
	ContextDecision     Context = "decision"
	ContextCodeSymbol   Context = "code-symbol"
	ContextCodePattern  Context = "code-pattern"
	ContextConversation Context = "conversation"
	ContextTask         Context = "task"
)

// Contexts lists every valid context value.
func Contexts() []Context {
	return []Context{
		ContextGeneral,
		ContextPreference,
		ContextDecision,
		ContextCodeSymbol,
		ContextCodePattern,
		ContextConversation,
		ContextTask,
	}
}

// ParseContext validates and returns the context for s.
func ParseContext(s string) (Context, error) {
	c := Context(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid memory context %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the allowed contexts.
func (c Context) Valid() bool {
	switch c {
	case ContextGeneral, ContextPreference, ContextDecision,
		ContextCodeSymbol, ContextCodePattern, ContextConversation, ContextTask:
		return true
	}
	return false
}

func (c Context) String() string {
	return string(c)
}

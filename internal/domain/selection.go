package domain

// Selection is a player's answer to one question, either a single option or a
// set of options. Transports decode wire payloads into one of the two
// concrete shapes so the core never sniffs payload fields.
type Selection interface {
	isSelection()
}

// SingleChoice answers a single_select question.
type SingleChoice struct {
	OptionID string
}

func (SingleChoice) isSelection() {}

// MultiChoice answers a multi_select question with the full selected set.
type MultiChoice struct {
	OptionIDs []string
}

func (MultiChoice) isSelection() {}

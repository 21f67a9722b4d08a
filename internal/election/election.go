package election

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle state of an election. Only open elections accept
// credential issuance and ballots.
type State int

const (
	StateDraft State = iota
	StateOpen
	StateClosed
)

var stateNames = map[State]string{
	StateDraft:  "draft",
	StateOpen:   "open",
	StateClosed: "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState converts a configuration string into a State.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return StateDraft, nil
	case "open":
		return StateOpen, nil
	case "closed":
		return StateClosed, nil
	}
	return StateDraft, fmt.Errorf("unknown election state %q", raw)
}

// Answer is the closed set of choices a ballot may carry.
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerAbstain Answer = "abstain"
)

// ErrUnknownAnswer indicates the submitted answer is not in the allowed set.
var ErrUnknownAnswer = errors.New("election: unknown answer")

// Answers lists every valid answer in a stable order, used for zero-filled tallies.
func Answers() []Answer {
	return []Answer{AnswerYes, AnswerNo, AnswerAbstain}
}

// ParseAnswer validates and normalizes a submitted answer.
func ParseAnswer(raw string) (Answer, error) {
	switch Answer(strings.ToLower(strings.TrimSpace(raw))) {
	case AnswerYes:
		return AnswerYes, nil
	case AnswerNo:
		return AnswerNo, nil
	case AnswerAbstain:
		return AnswerAbstain, nil
	}
	return "", ErrUnknownAnswer
}

// Directory resolves election ids to their configured state. It is built once
// at startup from configuration and read per request.
type Directory struct {
	states map[string]State
}

// NewDirectory builds a Directory from an id -> state map.
func NewDirectory(states map[string]State) *Directory {
	copied := make(map[string]State, len(states))
	for id, st := range states {
		copied[strings.TrimSpace(id)] = st
	}
	return &Directory{states: copied}
}

// ParseDirectory parses the "id=state,id=state" form used by configuration,
// e.g. "vote-2025-felagsfundur=open".
func ParseDirectory(raw string) (*Directory, error) {
	states := make(map[string]State)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, stateRaw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed election entry %q", pair)
		}
		st, err := ParseState(stateRaw)
		if err != nil {
			return nil, err
		}
		states[strings.TrimSpace(id)] = st
	}
	return NewDirectory(states), nil
}

// State reports the configured state of an election. Unknown elections are
// draft: they accept nothing until explicitly opened.
func (d *Directory) State(electionID string) State {
	if d == nil {
		return StateDraft
	}
	st, ok := d.states[strings.TrimSpace(electionID)]
	if !ok {
		return StateDraft
	}
	return st
}

// IsOpen reports whether an election currently accepts issuance and ballots.
func (d *Directory) IsOpen(electionID string) bool {
	return d.State(electionID) == StateOpen
}

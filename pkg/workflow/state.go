package workflow

import (
	"fmt"

	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/stats"
)

// Mode selects between executive summaries and direct question answering.
type Mode string

const (
	ModeSummary Mode = "summary"
	ModeQA      Mode = "qa"
)

// ParseMode parses a caller-supplied mode. An empty string means ModeQA.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeQA:
		return ModeQA, nil
	case ModeSummary:
		return ModeSummary, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected %q or %q)", s, ModeSummary, ModeQA)
	}
}

type ValidationStatus string

const (
	StatusUnset   ValidationStatus = ""
	StatusPassed  ValidationStatus = "PASSED"
	StatusWarning ValidationStatus = "WARNING"
	StatusFailed  ValidationStatus = "FAILED"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Result is the outcome of data extraction. It is one of *Tabular,
// *Statistics or *Failed.
type Result interface {
	isResult()
}

// Tabular holds rows returned by the query engine.
type Tabular struct {
	Rows     []map[string]any `json:"data"`
	RowCount int              `json:"row_count"`
	Columns  []string         `json:"columns"`
}

// Statistics holds the aggregate statistics used in place of a query result.
type Statistics struct {
	Summary *stats.Summary `json:"summary"`
}

// Failed records an extraction error that could not be recovered.
type Failed struct {
	Error string `json:"error"`
}

func (*Tabular) isResult()    {}
func (*Statistics) isResult() {}
func (*Failed) isResult()     {}

// State is the record threaded through the stages of one invocation.
type State struct {
	UserQuery     string
	Mode          Mode
	SQL           string
	Data          Result
	Status        ValidationStatus
	FinalResponse string
	Schema        catalog.Schema
	Messages      []Message
	Iteration     int
}

// NewState returns the initial state for a query.
func NewState(query string, mode Mode) *State {
	return &State{
		UserQuery: query,
		Mode:      mode,
		Messages:  []Message{{Role: RoleUser, Content: query}},
	}
}

func (s *State) appendMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

package model

// Event types of the streaming research progress protocol. Each event is
// one newline-delimited JSON record; consumers ignore unknown shapes and
// concatenate "content" records in order to rebuild the research text.
const (
	EventTypeStatus    = "status"
	EventTypeReasoning = "reasoning"
	EventTypeContent   = "content"
	EventTypeSources   = "sources"
	EventTypeDone      = "done"
	EventTypeError     = "error"
)

// Progress stages emitted as status events, in order.
const (
	StageStarting   = "starting"
	StageSearching  = "searching"
	StageGenerating = "generating"
	StageSaving     = "saving"
	StageEnriching  = "enriching"
	StageDone       = "done"
)

// ResearchSource is one citation surfaced by the research service.
type ResearchSource struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Date  string `json:"date,omitempty"`
}

// ResearchEvent is a transient wire record emitted during streaming
// orchestration. Side effects land in Contact fields; events themselves are
// not persisted.
type ResearchEvent struct {
	Type    string           `json:"type"`
	Stage   string           `json:"stage,omitempty"`
	Text    string           `json:"text,omitempty"`
	Sources []ResearchSource `json:"sources,omitempty"`
	OK      bool             `json:"ok,omitempty"`
	Message string           `json:"message,omitempty"`
}

func StatusEvent(stage string) ResearchEvent {
	return ResearchEvent{Type: EventTypeStatus, Stage: stage}
}

func ReasoningEvent(text string) ResearchEvent {
	return ResearchEvent{Type: EventTypeReasoning, Text: text}
}

func ContentEvent(text string) ResearchEvent {
	return ResearchEvent{Type: EventTypeContent, Text: text}
}

func SourcesEvent(sources []ResearchSource) ResearchEvent {
	return ResearchEvent{Type: EventTypeSources, Sources: sources}
}

func DoneEvent() ResearchEvent {
	return ResearchEvent{Type: EventTypeDone, OK: true}
}

func ErrorEvent(msg string) ResearchEvent {
	return ResearchEvent{Type: EventTypeError, Message: msg}
}

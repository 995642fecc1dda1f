package stream

// Kind tags the variant carried by an Event.
type Kind int

const (
	KindContent  Kind = iota + 1 // a chunk of assistant text
	KindComplete                 // terminal: stream closed successfully
	KindError                    // terminal: remote side reported a failure
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single decoded stream event.
type Event struct {
	Index int // ordinal within this decode session, starting at 1
	Kind  Kind
	Text  string // content delta for KindContent, failure message for KindError
}

func Content(text string) Event { return Event{Kind: KindContent, Text: text} }

func Complete() Event { return Event{Kind: KindComplete} }

func Error(message string) Event { return Event{Kind: KindError, Text: message} }

// Terminal reports whether no further events can follow e.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// payload is the JSON body of a data: record. Backends emit either a flat
// {"content": ...} or an OpenAI-style {"delta": {"content": ...}}.
type payload struct {
	Content *string `json:"content"`
	Delta   *struct {
		Content *string `json:"content"`
	} `json:"delta"`
	Error *string `json:"error"`
}

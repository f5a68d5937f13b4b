package a2a

type AgentCard struct {
	Name                 string       `json:"name"`
	Description          string       `json:"description"`
	URL                  string       `json:"url"`
	Version              string       `json:"version"`
	ProtocolVersion      string       `json:"protocolVersion,omitempty"`
	PreferredTransport   string       `json:"preferredTransport,omitempty"`
	Capabilities         Capabilities `json:"capabilities"`
	Endpoints            *Endpoints   `json:"endpoints,omitempty"`
	AdditionalInterfaces []Interface  `json:"additionalInterfaces,omitempty"`
	DefaultInputModes    []string     `json:"defaultInputModes,omitempty"`
	DefaultOutputModes   []string     `json:"defaultOutputModes,omitempty"`
	Skills               []Skill      `json:"skills"`
}

type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

type Endpoints struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
}

type Interface struct {
	Transport string `json:"transport"`
	URL       string `json:"url"`
}

type Skill struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags,omitempty"`
	Discovery   *Discovery `json:"discovery,omitempty"`
}

type Discovery struct {
	URL string `json:"url"`
}

type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp string    `json:"timestamp,omitempty"`
}

type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	History   []Message  `json:"history,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	StreamURL string     `json:"streamUrl,omitempty"`
}

type Message struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

const (
	KindTask         = "task"
	KindMessage      = "message"
	KindStatusUpdate = "status-update"
	KindArtifact     = "artifact-update"

	PartText = "text"
	PartFile = "file"
	PartData = "data"

	RoleUser  = "user"
	RoleAgent = "agent"
)

type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

type MessageSendParams struct {
	Message Message `json:"message"`
}

type TaskIDParams struct {
	ID string `json:"id"`
}

type StatusUpdateEvent struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// ChatEvent is the flat event shape pushed over streams alongside the native A2A kinds.
type ChatEvent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ArtifactBatch struct {
	Artifacts []Artifact `json:"artifacts"`
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

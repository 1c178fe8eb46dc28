package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	// Student actions.
	ActionSignal    Action = "signal"    // raw violation signal
	ActionHeartbeat Action = "heartbeat" // liveness + current question + webcam state
	ActionQuestion  Action = "question"  // question navigation
	ActionWebcam    Action = "webcam"    // webcam state change
	ActionAutosave  Action = "autosave"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"

	// Teacher actions.
	ActionMessage   Action = "message"   // direct message to one student
	ActionTerminate Action = "terminate" // force-end a student's attempt
)

// RequestPayload is the single client→server message shape. Fields are
// populated per action; unknown fields are ignored.
type RequestPayload struct {
	Action Action `json:"action"`

	// signal
	Description string `json:"description,omitempty"`

	// heartbeat / question / webcam
	QuestionIndex *int  `json:"question_index,omitempty"`
	WebcamActive  *bool `json:"webcam_active,omitempty"`

	// autosave
	QID    string `json:"q_id,omitempty"`
	Answer string `json:"ans,omitempty"`

	// teacher message / terminate
	ExamID    string `json:"exam_id,omitempty"`
	StudentID int    `json:"student_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Client clock, epoch milliseconds. Zero means "use server time".
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

type AutosaveResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type GradedResponse struct {
	Event  Event   `json:"event"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

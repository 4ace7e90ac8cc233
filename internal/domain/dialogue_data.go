package domain

// ScheduleNow is the sentinel stored in DialogueData.ScheduledTime when the
// user asked for an immediate call. Any other value is an absolute time in
// RFC 3339, except custom times which are kept verbatim until dispatch.
const ScheduleNow = "now"

// Storyteller describes the person the completed dialogue asks us to call.
type Storyteller struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	Personality  string `json:"personality,omitempty"`
	Background   string `json:"background,omitempty"`
}

// DialogueData is the blob a session accumulates across dialogue states.
// It is persisted as JSON alongside the state name.
type DialogueData struct {
	Storyteller   Storyteller `json:"storyteller"`
	Questions     []string    `json:"questions"`
	AvoidTopics   []string    `json:"avoid_topics"`
	AIStyle       string      `json:"ai_style,omitempty"`
	ScheduledTime string      `json:"scheduled_time,omitempty"`
}

// NewDialogueData returns the empty blob a fresh session starts with.
func NewDialogueData() *DialogueData {
	return &DialogueData{
		Questions:   []string{},
		AvoidTopics: []string{},
	}
}

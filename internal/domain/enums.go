// Package domain defines the core domain models for the OldVoice server.
package domain

// SessionState represents the dialogue state of a session.
type SessionState string

const (
	StateInitial               SessionState = "initial"
	StateCollectingPhone       SessionState = "collecting_phone"
	StateCollectingRelation    SessionState = "collecting_relationship"
	StateCollectingPersonality SessionState = "collecting_personality"
	StateCollectingBackground  SessionState = "collecting_background"
	StateCollectingQuestions   SessionState = "collecting_questions"
	StateCollectingMoreQs      SessionState = "collecting_more_questions"
	StateCollectingAvoidTopics SessionState = "collecting_avoid_topics"
	StateCollectingAIStyle     SessionState = "collecting_ai_style"
	StateCollectingSchedule    SessionState = "collecting_schedule"
	StateConfirming            SessionState = "confirming"
	StateCompleted             SessionState = "completed"
	StateCancelled             SessionState = "cancelled"
)

// Terminal reports whether the state ends a dialogue. A terminal session is
// inert; it is superseded by a new session, never resumed.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// CallRequestStatus represents the status of a call request.
type CallRequestStatus string

const (
	CallRequestStatusPending    CallRequestStatus = "pending"
	CallRequestStatusCalling    CallRequestStatus = "calling"
	CallRequestStatusProcessing CallRequestStatus = "processing"
	CallRequestStatusCompleted  CallRequestStatus = "completed"
	CallRequestStatusFailed     CallRequestStatus = "failed"
)

// MessageDirection marks a message log entry as inbound or outbound.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Package dialogue defines the static state table that drives the setup
// conversation: per-state validation, input normalization, branching and
// prompts. The table is data; advancing a session through it is the
// orchestrator's job.
package dialogue

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oldvoice/oldvoice/internal/domain"
)

// Spec describes one non-terminal dialogue state.
//
// A nil Validate means any input is accepted. Transform folds the normalized
// input into the accumulated data under the state's field; a nil Transform
// stores nothing. Next picks the successor from the raw input; NextState is
// used when Next is nil. Prompt renders the question asked on entering the
// state; PromptText is used when Prompt is nil.
type Spec struct {
	Validate   func(input string, data *domain.DialogueData) bool
	Transform  func(input string, data *domain.DialogueData)
	Next       func(input string) domain.SessionState
	NextState  domain.SessionState
	Prompt     func(data *domain.DialogueData) string
	PromptText string
	Error      string
}

// Definition maps state names to their specs. The terminal states
// (completed, cancelled) have no entry.
type Definition map[domain.SessionState]*Spec

// DefaultError is returned for states that declare no error text.
const DefaultError = "Invalid input. Please try again."

// Start is the state a fresh session is created in.
const Start = domain.StateInitial

// ValidateInput runs the state's validator. States without a validator
// accept everything; unknown states reject nothing.
func (d Definition) ValidateInput(state domain.SessionState, input string, data *domain.DialogueData) bool {
	spec, ok := d[state]
	if !ok || spec.Validate == nil {
		return true
	}
	return spec.Validate(input, data)
}

// TransformInput folds the input into data under the state's field. Inputs
// that fail validation must not reach this.
func (d Definition) TransformInput(state domain.SessionState, input string, data *domain.DialogueData) {
	spec, ok := d[state]
	if !ok || spec.Transform == nil {
		return
	}
	spec.Transform(input, data)
}

// NextState returns the successor state, or ok=false when the state has no
// mapping (treated as fatal to the session by the orchestrator).
func (d Definition) NextState(state domain.SessionState, input string) (domain.SessionState, bool) {
	spec, ok := d[state]
	if !ok {
		return "", false
	}
	if spec.Next != nil {
		return spec.Next(input), true
	}
	if spec.NextState == "" {
		return "", false
	}
	return spec.NextState, true
}

// Prompt renders the question for the given state.
func (d Definition) Prompt(state domain.SessionState, data *domain.DialogueData) string {
	spec, ok := d[state]
	if !ok {
		return ""
	}
	if spec.Prompt != nil {
		return spec.Prompt(data)
	}
	return spec.PromptText
}

// ErrorText returns the state's rejection message.
func (d Definition) ErrorText(state domain.SessionState) string {
	spec, ok := d[state]
	if !ok || spec.Error == "" {
		return DefaultError
	}
	return spec.Error
}

var timePattern = regexp.MustCompile(`^\d{1,2}:\d{2}\s?(?i:am|pm)?$`)

func nonEmpty(input string, _ *domain.DialogueData) bool {
	return strings.TrimSpace(input) != ""
}

func digits(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalPhone collapses a free-form phone string to +<countrycode><digits>.
// Ten digits are assumed to be a US number.
func CanonicalPhone(input string) string {
	cleaned := digits(input)
	switch {
	case len(cleaned) == 10:
		return "+1" + cleaned
	case len(cleaned) == 11 && cleaned[0] == '1':
		return "+" + cleaned
	default:
		return "+" + cleaned
	}
}

// Default returns the OldVoice setup dialogue.
func Default() Definition {
	return Definition{
		domain.StateInitial: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				data.Storyteller.Name = strings.TrimSpace(input)
			},
			NextState: domain.StateCollectingPhone,
			PromptText: "Hi! I'm here to help you record a special conversation with your loved one. " +
				"Let's start by setting up the details.\n\n" +
				"What's the name of the person you'd like to have a conversation with?",
			Error: "Please provide the person's name.",
		},

		domain.StateCollectingPhone: {
			Validate: func(input string, _ *domain.DialogueData) bool {
				return len(digits(input)) >= 10
			},
			Transform: func(input string, data *domain.DialogueData) {
				data.Storyteller.Phone = CanonicalPhone(input)
			},
			NextState: domain.StateCollectingRelation,
			Prompt: func(data *domain.DialogueData) string {
				return fmt.Sprintf("Great! What's the best phone number to reach %s?", data.Storyteller.Name)
			},
			Error: "Please provide a valid phone number.",
		},

		domain.StateCollectingRelation: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				data.Storyteller.Relationship = strings.TrimSpace(input)
			},
			NextState: domain.StateCollectingPersonality,
			Prompt: func(data *domain.DialogueData) string {
				return fmt.Sprintf("What's your relationship to %s? (e.g., grandmother, father, uncle)", data.Storyteller.Name)
			},
		},

		domain.StateCollectingPersonality: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				data.Storyteller.Personality = strings.TrimSpace(input)
			},
			NextState: domain.StateCollectingBackground,
			Prompt: func(data *domain.DialogueData) string {
				return fmt.Sprintf("How would you describe %s's personality? This helps the AI adapt its conversation style. "+
					"(e.g., \"formal but warms up when talking about gardening\")", data.Storyteller.Name)
			},
		},

		domain.StateCollectingBackground: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				data.Storyteller.Background = strings.TrimSpace(input)
			},
			NextState: domain.StateCollectingQuestions,
			Prompt: func(data *domain.DialogueData) string {
				return fmt.Sprintf("What's some background about %s that might be helpful? "+
					"(e.g., \"Polish immigrant who came to America in 1960s\")", data.Storyteller.Name)
			},
		},

		domain.StateCollectingQuestions: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				data.Questions = []string{strings.TrimSpace(input)}
			},
			NextState:  domain.StateCollectingMoreQs,
			PromptText: "What would you like to ask about? Share 1-3 specific topics or questions.",
		},

		domain.StateCollectingMoreQs: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				if strings.EqualFold(strings.TrimSpace(input), "done") {
					return
				}
				data.Questions = append(data.Questions, strings.TrimSpace(input))
			},
			Next: func(input string) domain.SessionState {
				if strings.EqualFold(strings.TrimSpace(input), "done") {
					return domain.StateCollectingAvoidTopics
				}
				return domain.StateCollectingMoreQs
			},
			Prompt: func(data *domain.DialogueData) string {
				if len(data.Questions) >= 5 {
					return "Great questions! Any more? (Reply 'done' if you're finished)"
				}
				return "Any other questions? (Reply 'done' if you're finished)"
			},
		},

		domain.StateCollectingAvoidTopics: {
			Validate: nonEmpty,
			Transform: func(input string, data *domain.DialogueData) {
				if strings.EqualFold(strings.TrimSpace(input), "none") {
					data.AvoidTopics = []string{}
					return
				}
				data.AvoidTopics = []string{strings.TrimSpace(input)}
			},
			NextState:  domain.StateCollectingAIStyle,
			PromptText: "Are there any sensitive topics to avoid? (Reply 'none' if not)",
		},

		domain.StateCollectingAIStyle: {
			Validate: func(input string, _ *domain.DialogueData) bool {
				_, ok := aiStyles[strings.ToLower(strings.TrimSpace(input))]
				return ok
			},
			Transform: func(input string, data *domain.DialogueData) {
				data.AIStyle = aiStyles[strings.ToLower(strings.TrimSpace(input))]
			},
			NextState: domain.StateCollectingSchedule,
			PromptText: "How should the AI interviewer be? Choose one:\n" +
				"1) Warm & friendly\n2) Professional journalist\n3) Curious grandchild",
			Error: "Please choose 1, 2, or 3",
		},

		domain.StateCollectingSchedule: {
			Validate: func(input string, _ *domain.DialogueData) bool {
				key := strings.ToLower(strings.TrimSpace(input))
				switch key {
				case "1", "2", "3", "4", "now", "30", "60", "custom":
					return true
				}
				return timePattern.MatchString(strings.TrimSpace(input))
			},
			// Relative schedules resolve to an absolute timestamp here, once,
			// at transform time.
			Transform: func(input string, data *domain.DialogueData) {
				key := strings.ToLower(strings.TrimSpace(input))
				switch key {
				case "1", "now":
					data.ScheduledTime = domain.ScheduleNow
				case "2", "30":
					data.ScheduledTime = time.Now().Add(30 * time.Minute).Format(time.RFC3339)
				case "3", "60":
					data.ScheduledTime = time.Now().Add(time.Hour).Format(time.RFC3339)
				default:
					data.ScheduledTime = strings.TrimSpace(input)
				}
			},
			NextState:  domain.StateConfirming,
			PromptText: "When should I make the call?\n1) Now\n2) In 30 minutes\n3) In 1 hour\n4) Custom time",
		},

		domain.StateConfirming: {
			Validate: func(input string, _ *domain.DialogueData) bool {
				switch strings.ToLower(strings.TrimSpace(input)) {
				case "yes", "no", "cancel":
					return true
				}
				return false
			},
			Next: func(input string) domain.SessionState {
				if strings.EqualFold(strings.TrimSpace(input), "yes") {
					return domain.StateCompleted
				}
				return domain.StateCancelled
			},
			Prompt: func(data *domain.DialogueData) string {
				when := "immediately"
				if data.ScheduledTime != domain.ScheduleNow {
					when = "at " + formatSchedule(data.ScheduledTime)
				}
				return fmt.Sprintf("Perfect! Here's what I have:\n\n"+
					"📞 Calling: %s (%s)\n"+
					"👤 Relationship: %s\n"+
					"🎯 Questions: %d topics\n"+
					"🤖 Style: %s interviewer\n"+
					"⏰ When: %s\n\n"+
					"Reply 'yes' to confirm or 'cancel' to start over.",
					data.Storyteller.Name, data.Storyteller.Phone,
					data.Storyteller.Relationship, len(data.Questions),
					data.AIStyle, when)
			},
			Error: "Please reply 'yes' to confirm or 'cancel' to start over.",
		},
	}
}

var aiStyles = map[string]string{
	"1":            "warm",
	"2":            "professional",
	"3":            "curious",
	"warm":         "warm",
	"professional": "professional",
	"curious":      "curious",
}

func formatSchedule(scheduled string) string {
	if t, err := time.Parse(time.RFC3339, scheduled); err == nil {
		return t.Format("3:04 PM")
	}
	// Custom times are kept verbatim.
	return scheduled
}

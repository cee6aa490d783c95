package remediation

import "fmt"

const (
	// MissingAccessMessage is shown when the bot lacks Manage Roles entirely
	MissingAccessMessage = "**Error:** I am missing the **Manage Roles** permission.\n\nPlease inform a server admin of this issue."

	// RolePositionMessage is shown when the bot's highest role sits below a color role
	RolePositionMessage = "**Error:** For me to be able to manage color roles, I must have at least one role above all the color roles in the server's role list.\n\nPlease inform a server admin of this issue."

	// GenericFailureMessage never exposes platform codes to the operator
	GenericFailureMessage = "**Error:** Something went wrong while deleting color roles. Please try again later."
)

// ProgressMessage renders an in-flight status line
func ProgressMessage(s Snapshot) string {
	return fmt.Sprintf("Deleting color roles... (%d of %d)", s.Succeeded, s.Total)
}

// FinalMessage renders the single terminal status line for a snapshot
func FinalMessage(s Snapshot) string {
	switch s.Outcome() {
	case OutcomeAborted:
		return s.TerminalError.Message
	case OutcomeFailed:
		return GenericFailureMessage
	default:
		return fmt.Sprintf("Deleted all %d color roles.", s.Total)
	}
}

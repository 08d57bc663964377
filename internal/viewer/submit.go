package viewer

import (
	"strings"

	"github.com/ignite/proposal-pulse/internal/engagement"
)

// SubmitGate validates a signature submission before any server call. A
// failing field blocks the submit and the message is shown to the viewer.
type SubmitGate struct {
	SignerName  string
	SignerEmail string
	Canvas      *Canvas
}

// Validate returns user-facing validation messages, one per failing field.
// Empty result means the submission may proceed.
func (g SubmitGate) Validate() []string {
	var problems []string
	if strings.TrimSpace(g.SignerName) == "" {
		problems = append(problems, "Please enter your full name")
	}
	if !engagement.ValidateEmail(g.SignerEmail) {
		problems = append(problems, "Please enter a valid email address")
	}
	if g.Canvas == nil || !g.Canvas.HasSignature() {
		problems = append(problems, "Please draw your signature before submitting")
	}
	return problems
}

package agent

import (
	"strings"

	"github.com/nugget/sage-agent/internal/protocol"
)

// scratchpad accumulates this run's steps in the wire format the model
// writes, so each prompt shows what was tried and observed.
type scratchpad struct {
	sb strings.Builder
}

// step records a tool call and its observation.
func (p *scratchpad) step(r protocol.Result, observation string) {
	p.sb.WriteByte('\n')
	if r.Reasoning != "" {
		p.sb.WriteString(protocol.LabelThought + " " + r.Reasoning + "\n")
	}
	p.sb.WriteString(protocol.LabelAction + " " + r.Action + "\n")
	p.sb.WriteString(protocol.LabelActionInput + " " + r.Input.String() + "\n")
	p.sb.WriteString(protocol.LabelObservation + " " + observation + "\n")
}

// observe records an observation without a tool call.
func (p *scratchpad) observe(observation string) {
	p.sb.WriteString("\n" + protocol.LabelObservation + " " + observation + "\n")
}

func (p *scratchpad) String() string {
	return p.sb.String()
}

package schedule

import "time"

// previewLimit is the instruction preview cutoff used by listings
const previewLimit = 100

// Summary is the read projection returned by listings. It is derived on
// read and never persisted.
type Summary struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name,omitempty"`
	AgentRef           string     `json:"agent_ref,omitempty"`
	InstructionPreview string     `json:"instruction_preview"`
	CronExpression     string     `json:"cron_expression,omitempty"`
	RunAt              *time.Time `json:"run_at,omitempty"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
	Target             Target     `json:"target"`
}

// Summary builds the listing projection for the schedule
func (s *Schedule) Summary() *Summary {
	return &Summary{
		ID:                 s.ID,
		Name:               s.Name,
		AgentRef:           s.AgentRef,
		InstructionPreview: previewInstruction(s.Instruction),
		CronExpression:     s.CronExpression,
		RunAt:              s.RunAt,
		NextRunAt:          s.NextRunAt,
		Target:             s.Target,
	}
}

// previewInstruction truncates an instruction to previewLimit characters,
// appending an ellipsis when the original was longer
func previewInstruction(instruction string) string {
	runes := []rune(instruction)
	if len(runes) <= previewLimit {
		return instruction
	}
	return string(runes[:previewLimit]) + "..."
}

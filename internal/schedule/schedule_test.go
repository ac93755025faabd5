package schedule

import (
	"strings"
	"testing"
	"time"
)

func validSchedule() *Schedule {
	s := New("owner-1", Target{ChatID: "chat-1"}, "assistant", "morning digest", "Summarize my inbox")
	s.CronExpression = "0 9 * * *"
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := New("owner-1", Target{ChatID: "chat-1", ThreadID: "th-9"}, "assistant", "digest", "do things")

	if s.ID == "" {
		t.Error("expected a generated id")
	}
	if s.Status != StatusActive {
		t.Errorf("expected status active, got %s", s.Status)
	}
	if s.MissedRunPolicy != MissedSkipToNext {
		t.Errorf("expected default policy skip_to_next, got %s", s.MissedRunPolicy)
	}
	if s.RunCount != 0 {
		t.Errorf("expected run count 0, got %d", s.RunCount)
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if s.Target.ThreadID != "th-9" {
		t.Errorf("expected thread id th-9, got %s", s.Target.ThreadID)
	}
}

func TestValidate_Success(t *testing.T) {
	if err := validSchedule().Validate(); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}

	oneShot := New("owner-1", Target{ChatID: "chat-1"}, "", "", "remind me")
	runAt := time.Now().Add(time.Hour)
	oneShot.RunAt = &runAt
	if err := oneShot.Validate(); err != nil {
		t.Fatalf("expected valid one-shot, got %v", err)
	}
}

func TestValidate_BothTimingFields(t *testing.T) {
	s := validSchedule()
	runAt := time.Now().Add(time.Hour)
	s.RunAt = &runAt

	err := s.Validate()
	if err == nil {
		t.Fatal("expected error when both cron and run_at are set")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "timing" {
		t.Errorf("expected timing field error, got %s", ve.Field)
	}
}

func TestValidate_NeitherTimingField(t *testing.T) {
	s := validSchedule()
	s.CronExpression = ""

	if err := s.Validate(); err == nil {
		t.Fatal("expected error when neither cron nor run_at is set")
	}
}

func TestValidate_MissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Schedule)
		field  string
	}{
		{"missing owner", func(s *Schedule) { s.OwnerID = "" }, "owner_id"},
		{"missing target", func(s *Schedule) { s.Target.ChatID = "" }, "target"},
		{"missing instruction", func(s *Schedule) { s.Instruction = "" }, "instruction"},
		{"negative max runs", func(s *Schedule) { s.MaxRuns = -1 }, "max_runs"},
		{"unknown policy", func(s *Schedule) { s.MissedRunPolicy = "whenever" }, "missed_run_policy"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSchedule()
			tc.mutate(s)

			err := s.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, ve.Field)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusExpired, StatusCancelled}
	for _, st := range terminal {
		if !st.Terminal() {
			t.Errorf("expected %s to be terminal", st)
		}
	}

	for _, st := range []Status{StatusActive, StatusPaused} {
		if st.Terminal() {
			t.Errorf("expected %s to not be terminal", st)
		}
	}
}

func TestMissedRunPolicy_Valid(t *testing.T) {
	for _, p := range []MissedRunPolicy{MissedSkipToNext, MissedRunImmediately, MissedRunOnceIfMissed} {
		if !p.Valid() {
			t.Errorf("expected %s to be valid", p)
		}
	}
	if MissedRunPolicy("sometimes").Valid() {
		t.Error("expected unknown policy to be invalid")
	}
}

func TestOneShot(t *testing.T) {
	s := validSchedule()
	if s.OneShot() {
		t.Error("cron schedule should not be one-shot")
	}

	s.CronExpression = ""
	runAt := time.Now()
	s.RunAt = &runAt
	if !s.OneShot() {
		t.Error("run_at schedule should be one-shot")
	}
}

func TestHasTag(t *testing.T) {
	s := validSchedule()
	s.Tags = []string{"reports", "daily"}

	if !s.HasTag("daily") {
		t.Error("expected tag daily")
	}
	if s.HasTag("weekly") {
		t.Error("did not expect tag weekly")
	}
}

func TestSummary_PreviewTruncation(t *testing.T) {
	s := validSchedule()
	s.Instruction = strings.Repeat("a", 150)

	summary := s.Summary()
	if len(summary.InstructionPreview) != 103 {
		t.Errorf("expected 103-char preview, got %d", len(summary.InstructionPreview))
	}
	if !strings.HasSuffix(summary.InstructionPreview, "...") {
		t.Error("expected ellipsis suffix")
	}
	if summary.InstructionPreview[:100] != s.Instruction[:100] {
		t.Error("preview prefix should match the instruction")
	}
}

func TestSummary_ShortInstructionUntouched(t *testing.T) {
	s := validSchedule()
	s.Instruction = "short one"

	summary := s.Summary()
	if summary.InstructionPreview != "short one" {
		t.Errorf("expected untouched preview, got %q", summary.InstructionPreview)
	}
	if summary.ID != s.ID || summary.CronExpression != s.CronExpression {
		t.Error("summary should carry id and timing descriptor")
	}
}

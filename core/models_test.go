package core

import (
	"errors"
	"testing"
)

func TestContentID(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []string
		equal bool
	}{
		{name: "same parts", a: []string{"job", "1"}, b: []string{"job", "1"}, equal: true},
		{name: "different parts", a: []string{"job", "1"}, b: []string{"job", "2"}, equal: false},
		{name: "separator matters", a: []string{"ab", "c"}, b: []string{"a", "bc"}, equal: false},
		{name: "empty", a: nil, b: []string{}, equal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContentID(tt.a...) == ContentID(tt.b...)
			if got != tt.equal {
				t.Errorf("ContentID equality = %v, want %v", got, tt.equal)
			}
			if len(ContentID(tt.a...)) != 16 {
				t.Errorf("ContentID length = %d, want 16", len(ContentID(tt.a...)))
			}
		})
	}
}

func TestBatchID_Stable(t *testing.T) {
	if BatchID("job-1", 3) != BatchID("job-1", 3) {
		t.Error("BatchID not stable")
	}
	if BatchID("job-1", 3) == BatchID("job-1", 4) {
		t.Error("BatchID collides across batch indexes")
	}
}

func TestParseJobStatus(t *testing.T) {
	for status, name := range jobStatusNames {
		got, err := ParseJobStatus(name)
		if err != nil {
			t.Fatalf("ParseJobStatus(%q) error = %v", name, err)
		}
		if got != status {
			t.Errorf("ParseJobStatus(%q) = %v, want %v", name, got, status)
		}
	}
	if _, err := ParseJobStatus("RUNNING"); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("ParseJobStatus(RUNNING) error = %v, want ErrInvalidJob", err)
	}
}

func TestParseStage(t *testing.T) {
	for stage, name := range stageNames {
		got, err := ParseStage(name)
		if err != nil || got != stage {
			t.Errorf("ParseStage(%q) = %v, %v", name, got, err)
		}
	}
	if JobStatus(42).String() != "UNKNOWN(42)" {
		t.Errorf("unexpected String() for unknown status: %s", JobStatus(42))
	}
}

func TestDeadLetterTopic(t *testing.T) {
	if got := DeadLetterTopic(TopicEmbeddingRequest); got != "embedding.request.dlq" {
		t.Errorf("DeadLetterTopic() = %q", got)
	}
}

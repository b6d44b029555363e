package workflow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func TestCapabilities(t *testing.T) {
	t.Parallel()

	ready := Readiness{CanGenerate: true}
	cases := []struct {
		name  string
		stage domain.Stage
		ready Readiness
		flags Flags
		want  []string
	}{
		{"no session no upload", domain.StageBootstrap, Readiness{}, Flags{}, nil},
		{"no session with upload", domain.StageBootstrap, Readiness{}, Flags{UploadPresent: true}, []string{ToolCreateSession}},
		{"session exists hides create", domain.StageContact, Readiness{}, Flags{SessionExists: true, UploadPresent: true},
			[]string{ToolGetSession, ToolUpdateFields, ToolFetchReference}},
		{"ready in confirm", domain.StageConfirm, ready, Flags{SessionExists: true},
			[]string{ToolGetSession, ToolUpdateFields, ToolFetchReference, ToolGenerateDocument}},
		{"already attempted", domain.StageConfirm, ready, Flags{SessionExists: true, GenerateAttempted: true},
			[]string{ToolGetSession, ToolUpdateFields, ToolFetchReference}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Capabilities(tc.stage, tc.ready, tc.flags)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("capabilities mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSnapshotStaysBounded(t *testing.T) {
	t.Parallel()

	s := readySession(domain.StageReview)
	s.Data.JobReference = &domain.JobReference{Text: strings.Repeat("posting ", 4000)}
	for i := 0; i < 10; i++ {
		s.Data.WorkExperience = append(s.Data.WorkExperience, domain.WorkEntry{
			Employer: "Co",
			Bullets:  []string{strings.Repeat("x", 400), strings.Repeat("y", 400)},
		})
	}
	s.Metadata.LockWorkRole(1)

	snap := BuildSnapshot(s, Gate{}.Compute(s), 4096)
	if !snap.Truncated {
		t.Fatal("expected snapshot to be truncated")
	}
	if n := len(snap.JSON()); n > 4096 {
		t.Fatalf("expected snapshot under 4096 bytes, got %d", n)
	}
	if len(s.Data.JobReference.Text) != len(strings.Repeat("posting ", 4000)) {
		t.Fatal("snapshot must not modify the session")
	}
	if diff := cmp.Diff([]int{1}, snap.LockedWorkRoles); diff != "" {
		t.Fatalf("locked roles mismatch:\n%s", diff)
	}
}

func TestSnapshotBoundsEveryField(t *testing.T) {
	t.Parallel()

	s := readySession(domain.StageReview)
	s.Data.Summary = strings.Repeat("s", 40000)
	for i := 0; i < 300; i++ {
		s.Data.Skills = append(s.Data.Skills, fmt.Sprintf("skill-%03d-%s", i, strings.Repeat("k", 40)))
	}
	s.Data.Interests = []string{strings.Repeat("i", 2000)}
	s.Data.Education[0].Details = []string{strings.Repeat("d", 5000)}

	snap := BuildSnapshot(s, Gate{}.Compute(s), DefaultSnapshotMaxBytes)
	if !snap.Truncated {
		t.Fatal("expected snapshot to be truncated")
	}
	if n := len(snap.JSON()); n > DefaultSnapshotMaxBytes {
		t.Fatalf("expected snapshot under %d bytes, got %d", DefaultSnapshotMaxBytes, n)
	}
	if snap.Data.Contact.FullName == "" || len(snap.Data.WorkExperience) == 0 {
		t.Fatal("core sections must survive shrinking")
	}
	if len(s.Data.Summary) != 40000 || len(s.Data.Skills) != 300 {
		t.Fatal("snapshot must not modify the session")
	}
}

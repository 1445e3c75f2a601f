package repos

import "testing"

func TestInferStudentName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"jane_doe_final.mp4", "Jane Doe"},
		{"John-Smith-v2.mov", "John Smith"},
		{"maria.garcia.presentation.webm", "Maria Garcia"},
		{"li_wei_12345.mp4", "Li Wei"},
		{"ALICE_COOPER_DRAFT_COPY.mp4", "Alice Cooper"},
		{"bob.mp4", "Bob"},
		{"final_v2.mp4", "Student"},
		{"", "Student"},
		{"uploads/nested/amy_chen_revised.mp4", "Amy Chen"},
	}
	for _, tc := range cases {
		if got := InferStudentName(tc.in); got != tc.want {
			t.Fatalf("InferStudentName(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

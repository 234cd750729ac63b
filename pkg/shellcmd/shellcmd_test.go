package shellcmd

import (
	"testing"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		expected string
	}{
		{
			name:     "empty",
			argv:     nil,
			expected: "",
		},
		{
			name:     "plain words",
			argv:     []string{"maestro-agent", "--manifest", "/tmp/m.json"},
			expected: "maestro-agent --manifest /tmp/m.json",
		},
		{
			name:     "spaces quoted",
			argv:     []string{"echo", "hello world"},
			expected: "echo 'hello world'",
		},
		{
			name:     "shell metacharacters quoted",
			argv:     []string{"echo", "a && b"},
			expected: "echo 'a && b'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Join(tt.argv)
			if err != nil {
				t.Fatalf("Join() returned error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Join(%q) = %q, expected %q", tt.argv, got, tt.expected)
			}
		})
	}
}

func TestJoinWithEnv(t *testing.T) {
	got, err := JoinWithEnv(map[string]string{
		"MAESTRO_SESSION_ID": "sess-1",
		"MAESTRO_STRATEGY":   "queue",
	}, []string{"maestro-agent", "--manifest", "/tmp/sess-1.json"})
	if err != nil {
		t.Fatalf("JoinWithEnv() returned error: %v", err)
	}
	expected := "MAESTRO_SESSION_ID=sess-1 MAESTRO_STRATEGY=queue maestro-agent --manifest /tmp/sess-1.json"
	if got != expected {
		t.Errorf("JoinWithEnv() = %q, expected %q", got, expected)
	}
}

// TestJoinOutputIsValidShell verifies the produced command lines round-trip
// through the shell parser even with hostile arguments.
func TestJoinOutputIsValidShell(t *testing.T) {
	inputs := [][]string{
		{"maestro-agent", "--manifest", "/path with space/m.json"},
		{"echo", "$(rm -rf /)"},
		{"echo", "it's quoted"},
		{"printf", "%s\n", "multi\nline"},
	}
	for _, argv := range inputs {
		got, err := Join(argv)
		if err != nil {
			t.Fatalf("Join(%q) returned error: %v", argv, err)
		}
		if !Valid(got) {
			t.Errorf("Join(%q) produced invalid shell: %s", argv, got)
		}
	}
}

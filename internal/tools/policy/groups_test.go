package policy

import (
	"slices"
	"testing"
)

func TestExpandGroups(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		contains []string // actions that should be present
		excludes []string // actions that should NOT be present
	}{
		{
			name:     "expand single group",
			input:    []string{"group:fs"},
			contains: []string{"enhanced_read", "enhanced_write", "find_files_enhanced"},
		},
		{
			name:     "expand exec group",
			input:    []string{"group:exec"},
			contains: []string{"execute", "lint"},
		},
		{
			name:     "expand multiple groups",
			input:    []string{"group:fs", "group:search"},
			contains: []string{"enhanced_read", "search", "memory_search"},
		},
		{
			name:     "pass through direct action names",
			input:    []string{"custom_action", "another_action"},
			contains: []string{"custom_action", "another_action"},
		},
		{
			name:     "mix of groups and actions",
			input:    []string{"group:agents", "custom_action"},
			contains: []string{"delegate", "spawn_sub_agent", "custom_action"},
		},
		{
			name:     "deduplicate results",
			input:    []string{"group:fs", "enhanced_read", "enhanced_write"},
			contains: []string{"enhanced_read", "enhanced_write", "find_files_enhanced"},
		},
		{
			name:     "empty input",
			input:    []string{},
			contains: []string{},
		},
		{
			name:     "unknown group passed through",
			input:    []string{"group:unknown"},
			contains: []string{"group:unknown"},
		},
		{
			name:     "readonly group",
			input:    []string{"group:readonly"},
			contains: []string{"search", "memory_search", "task_list"},
			excludes: []string{"enhanced_write", "execute"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExpandGroups(tt.input)

			for _, expected := range tt.contains {
				if !slices.Contains(result, expected) {
					t.Errorf("expected %q to be in result %v", expected, result)
				}
			}

			for _, excluded := range tt.excludes {
				if slices.Contains(result, excluded) {
					t.Errorf("expected %q to NOT be in result %v", excluded, result)
				}
			}
		})
	}
}

func TestExpandGroupsDeduplication(t *testing.T) {
	input := []string{"group:fs", "enhanced_read", "group:fs"}
	result := ExpandGroups(input)

	count := 0
	for _, action := range result {
		if action == "enhanced_read" {
			count++
		}
	}

	if count != 1 {
		t.Errorf("expected 'enhanced_read' to appear exactly once, got %d times in %v", count, result)
	}
}

func TestGetProfilePolicy(t *testing.T) {
	tests := []struct {
		name        string
		profile     string
		expectNil   bool
		expectAllow []string
	}{
		{
			name:        "coding profile",
			profile:     "coding",
			expectNil:   false,
			expectAllow: []string{"group:fs", "group:exec"},
		},
		{
			name:        "messaging profile",
			profile:     "messaging",
			expectNil:   false,
			expectAllow: []string{"group:agents"},
		},
		{
			name:        "readonly profile",
			profile:     "readonly",
			expectNil:   false,
			expectAllow: []string{"group:readonly"},
		},
		{
			name:        "full profile",
			profile:     "full",
			expectNil:   false,
			expectAllow: nil, // full profile has no explicit allows
		},
		{
			name:      "unknown profile",
			profile:   "nonexistent",
			expectNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := GetProfilePolicy(tt.profile)

			if tt.expectNil {
				if policy != nil {
					t.Errorf("expected nil policy for profile %q", tt.profile)
				}
				return
			}

			if policy == nil {
				t.Fatalf("expected non-nil policy for profile %q", tt.profile)
			}

			for _, expected := range tt.expectAllow {
				if !slices.Contains(policy.Allow, expected) {
					t.Errorf("expected %q in allow list for profile %q, got %v", expected, tt.profile, policy.Allow)
				}
			}
		})
	}
}

func TestIsGroup(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid fs group", "group:fs", true},
		{"valid exec group", "group:exec", true},
		{"valid search group", "group:search", true},
		{"valid agents group", "group:agents", true},
		{"valid readonly group", "group:readonly", true},
		{"invalid group", "group:unknown", false},
		{"regular action name", "enhanced_read", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsGroup(tt.input)
			if result != tt.expected {
				t.Errorf("IsGroup(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetGroupTools(t *testing.T) {
	tests := []struct {
		name       string
		group      string
		expectNil  bool
		expectLen  int
		expectTool string
	}{
		{
			name:       "get fs actions",
			group:      "group:fs",
			expectNil:  false,
			expectLen:  4,
			expectTool: "enhanced_read",
		},
		{
			name:       "get search actions",
			group:      "group:search",
			expectNil:  false,
			expectLen:  2,
			expectTool: "search",
		},
		{
			name:      "unknown group",
			group:     "group:nonexistent",
			expectNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetGroupTools(tt.group)

			if tt.expectNil {
				if result != nil {
					t.Errorf("expected nil for group %q", tt.group)
				}
				return
			}

			if result == nil {
				t.Fatalf("expected non-nil result for group %q", tt.group)
			}

			if len(result) != tt.expectLen {
				t.Errorf("expected %d actions, got %d: %v", tt.expectLen, len(result), result)
			}

			if !slices.Contains(result, tt.expectTool) {
				t.Errorf("expected action %q in result %v", tt.expectTool, result)
			}
		})
	}
}

func TestGetGroupToolsReturnsCopy(t *testing.T) {
	original := GetGroupTools("group:fs")
	if original == nil {
		t.Fatal("expected non-nil result for group:fs")
	}

	original[0] = "modified"

	fresh := GetGroupTools("group:fs")
	if fresh[0] == "modified" {
		t.Error("GetGroupTools should return a copy, not the original slice")
	}
}

func TestListGroups(t *testing.T) {
	groups := ListGroups()

	expectedGroups := []string{
		"group:fs",
		"group:exec",
		"group:search",
		"group:agents",
		"group:readonly",
	}

	for _, expected := range expectedGroups {
		if !slices.Contains(groups, expected) {
			t.Errorf("expected %q in group list %v", expected, groups)
		}
	}
}

func TestListProfiles(t *testing.T) {
	profiles := ListProfiles()

	expectedProfiles := []string{
		"coding",
		"messaging",
		"readonly",
		"full",
		"minimal",
	}

	for _, expected := range expectedProfiles {
		if !slices.Contains(profiles, expected) {
			t.Errorf("expected %q in profile list %v", expected, profiles)
		}
	}
}

func TestResolverWithGroups(t *testing.T) {
	resolver := NewResolver()

	policy := &Policy{
		Allow: []string{"group:fs", "search"},
	}

	allowedTools := []string{"enhanced_read", "enhanced_write", "find_files_enhanced", "search"}
	for _, tool := range allowedTools {
		if !resolver.IsAllowed(policy, tool) {
			t.Errorf("expected %q to be allowed", tool)
		}
	}

	deniedTools := []string{"execute", "delegate", "browser_navigate"}
	for _, tool := range deniedTools {
		if resolver.IsAllowed(policy, tool) {
			t.Errorf("expected %q to be denied", tool)
		}
	}
}

func TestResolverWithProfile(t *testing.T) {
	resolver := NewResolver()

	policy := &Policy{
		Profile: ProfileCoding,
	}

	allowedTools := []string{"enhanced_read", "enhanced_write", "execute", "search"}
	for _, tool := range allowedTools {
		if !resolver.IsAllowed(policy, tool) {
			t.Errorf("coding profile: expected %q to be allowed", tool)
		}
	}
}

func TestResolverWithProfileAndDeny(t *testing.T) {
	resolver := NewResolver()

	policy := &Policy{
		Profile: ProfileFull,
		Deny:    []string{"execute"},
	}

	if resolver.IsAllowed(policy, "execute") {
		t.Error("expected execute to be denied even with full profile")
	}

	if !resolver.IsAllowed(policy, "enhanced_read") {
		t.Error("expected enhanced_read to be allowed with full profile")
	}
}

func TestResolverWithGroupDeny(t *testing.T) {
	resolver := NewResolver()

	policy := &Policy{
		Profile: ProfileFull,
		Deny:    []string{"group:exec"},
	}

	deniedTools := []string{"execute", "lint"}
	for _, tool := range deniedTools {
		if resolver.IsAllowed(policy, tool) {
			t.Errorf("expected %q to be denied by group:exec deny", tool)
		}
	}

	if !resolver.IsAllowed(policy, "enhanced_read") {
		t.Error("expected enhanced_read to be allowed")
	}
}

func TestReadonlyGroupNoModifyTools(t *testing.T) {
	readonlyTools := GetGroupTools("group:readonly")
	if readonlyTools == nil {
		t.Fatal("group:readonly should exist")
	}

	modifyTools := []string{"enhanced_write", "execute", "delegate", "task_create"}

	for _, tool := range modifyTools {
		if slices.Contains(readonlyTools, tool) {
			t.Errorf("group:readonly should NOT contain modification action %q", tool)
		}
	}

	readTools := []string{"search", "memory_search"}
	for _, tool := range readTools {
		if !slices.Contains(readonlyTools, tool) {
			t.Errorf("group:readonly should contain read-only action %q", tool)
		}
	}
}

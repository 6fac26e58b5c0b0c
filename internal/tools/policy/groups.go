package policy

// ToolGroups defines named groups of actions for easier policy configuration. Group names
// use the "group:" prefix to distinguish them from action names.
var ToolGroups = map[string][]string{
	"group:fs":      DefaultGroups["group:fs"],
	"group:exec":    DefaultGroups["group:exec"],
	"group:search":  DefaultGroups["group:search"],
	"group:browser": DefaultGroups["group:browser"],
	"group:agents":  DefaultGroups["group:agents"],
	"group:notes":   DefaultGroups["group:notes"],
	"group:tasks":   DefaultGroups["group:tasks"],

	// Read-only actions - safe actions that don't mutate state.
	"group:readonly": {"search", "memory_search", "get_file_map", "task_list", "task_details",
		"project_list", "project_details"},
}

// ToolProfiles defines pre-configured action sets for common use cases, keyed by profile name.
var ToolProfiles = map[string]*Policy{
	"coding": {
		Profile: ProfileCoding,
		Allow:   []string{"group:fs", "group:exec", "group:search"},
	},
	"messaging": {
		Profile: ProfileMessaging,
		Allow:   []string{"group:agents", "group:notes"},
	},
	"readonly": {
		Allow: []string{"group:readonly"},
	},
	"full": {
		Profile: ProfileFull,
	},
	"minimal": {
		Profile: ProfileMinimal,
		Allow:   []string{"group:notes"},
	},
}

// ExpandGroups expands group references in an action list to their constituent actions,
// passing unrecognized entries through unchanged and deduplicating the result.
func ExpandGroups(items []string) []string {
	var result []string
	seen := make(map[string]bool)

	for _, item := range items {
		if tools, ok := ToolGroups[item]; ok {
			for _, tool := range tools {
				if !seen[tool] {
					seen[tool] = true
					result = append(result, tool)
				}
			}
			continue
		}
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}

	return result
}

// GetProfilePolicy returns the policy for a named profile, or nil if it doesn't exist.
func GetProfilePolicy(name string) *Policy {
	return ToolProfiles[name]
}

// ListGroups returns all available group names.
func ListGroups() []string {
	groups := make([]string, 0, len(ToolGroups))
	for name := range ToolGroups {
		groups = append(groups, name)
	}
	return groups
}

// ListProfiles returns all available profile names.
func ListProfiles() []string {
	profiles := make([]string, 0, len(ToolProfiles))
	for name := range ToolProfiles {
		profiles = append(profiles, name)
	}
	return profiles
}

// IsGroup returns true if the name is a valid group reference.
func IsGroup(name string) bool {
	_, ok := ToolGroups[name]
	return ok
}

// GetGroupTools returns the actions in a group, or nil if the group doesn't exist.
func GetGroupTools(name string) []string {
	tools, ok := ToolGroups[name]
	if !ok {
		return nil
	}
	result := make([]string, len(tools))
	copy(result, tools)
	return result
}

package policy

import "testing"

func TestResolverAllowsRegisteredProviderAlias(t *testing.T) {
	resolver := NewResolver()
	resolver.RegisterMCPServer("github", []string{"search"})
	resolver.RegisterAlias("gh_search", "mcp:github.search")

	policy := &Policy{Allow: []string{"mcp:github.search"}}
	if !resolver.IsAllowed(policy, "gh_search") {
		t.Fatal("expected alias tool to be allowed")
	}
}

func TestResolverAllowsProviderAliasViaWildcard(t *testing.T) {
	resolver := NewResolver()
	resolver.RegisterMCPServer("github", []string{"search"})
	resolver.RegisterAlias("gh_search", "mcp:github.search")

	policy := &Policy{Allow: []string{"mcp:github.*"}}
	if !resolver.IsAllowed(policy, "gh_search") {
		t.Fatal("expected alias tool to be allowed via wildcard")
	}
}

func TestResolverDenyOverridesAllow(t *testing.T) {
	resolver := NewResolver()
	policy := &Policy{Allow: []string{"group:fs"}, Deny: []string{"enhanced_write"}}

	if !resolver.IsAllowed(policy, "enhanced_read") {
		t.Fatal("expected enhanced_read to be allowed")
	}
	if resolver.IsAllowed(policy, "enhanced_write") {
		t.Fatal("expected enhanced_write to be denied despite group:fs allow")
	}
}

func TestResolverFullProfileAllowsUnlistedAction(t *testing.T) {
	resolver := NewResolver()
	policy := NewPolicy(ProfileFull)
	if !resolver.IsAllowed(policy, "execute") {
		t.Fatal("expected full profile to allow any action")
	}
}

func TestResolverFullProfileRespectsDeny(t *testing.T) {
	resolver := NewResolver()
	policy := NewPolicy(ProfileFull).WithDeny("execute")
	if resolver.IsAllowed(policy, "execute") {
		t.Fatal("expected explicit deny to override full profile")
	}
}

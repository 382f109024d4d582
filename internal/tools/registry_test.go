package tools

import "testing"

func TestNewRegistryPopulatesEveryDescriptor(t *testing.T) {
	r := NewRegistry()
	if len(r.order) != len(descriptors) {
		t.Fatalf("registered %d descriptors, want %d", len(r.order), len(descriptors))
	}
}

func TestLookupFindsRegisteredTool(t *testing.T) {
	r := NewRegistry()
	d, ok := r.Lookup("buckets_list")
	if !ok {
		t.Fatalf("expected buckets_list to be registered")
	}
	if d.Module != "buckets" || d.Action != "list" {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestLookupMissesUnknownTool(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("nonexistent_action"); ok {
		t.Errorf("expected lookup of an unregistered tool to fail")
	}
}

func TestListHidesAdvancedByDefault(t *testing.T) {
	r := NewRegistry()
	basic := r.List(false)
	for _, d := range basic {
		if d.Advanced {
			t.Errorf("List(false) should never include an advanced descriptor, got %s", d.Name())
		}
	}

	all := r.List(true)
	if len(all) <= len(basic) {
		t.Errorf("List(true) should include at least as many tools as List(false): %d vs %d", len(all), len(basic))
	}

	var sawAdminList bool
	for _, d := range all {
		if d.Name() == "admin_users_list" {
			sawAdminList = true
		}
	}
	if !sawAdminList {
		t.Errorf("List(true) should surface admin_users_list")
	}
}

func TestAdminToolsRequireJWT(t *testing.T) {
	r := NewRegistry()
	for _, d := range r.List(true) {
		if d.Module == "admin" && !d.RequireJWT {
			t.Errorf("%s must require a JWT", d.Name())
		}
	}
}

func TestToolNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range descriptors {
		name := d.Name()
		if seen[name] {
			t.Errorf("duplicate tool name %q", name)
		}
		seen[name] = true
	}
}

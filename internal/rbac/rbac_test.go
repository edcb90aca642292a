package rbac

import "testing"

func TestAdminCanEverything(t *testing.T) {
	for _, action := range []Action{ActionRead, ActionWrite, ActionAdmin} {
		if !Can(RoleAdmin, action) {
			t.Errorf("admin should be allowed %s", action)
		}
	}
}

func TestUserCannotAdmin(t *testing.T) {
	if !Can(RoleUser, ActionRead) {
		t.Errorf("user should be allowed read")
	}
	if !Can(RoleUser, ActionWrite) {
		t.Errorf("user should be allowed write")
	}
	if Can(RoleUser, ActionAdmin) {
		t.Errorf("user should not be allowed admin")
	}
}

func TestUnknownRoleDeniedAndNormalized(t *testing.T) {
	if Can(Role("superuser"), ActionRead) {
		t.Errorf("unknown role should be denied")
	}
	if got := Normalize("superuser"); got != RoleUser {
		t.Errorf("expected unknown role to normalize to user, got %s", got)
	}
	if got := Normalize("admin"); got != RoleAdmin {
		t.Errorf("expected admin to normalize to admin, got %s", got)
	}
}

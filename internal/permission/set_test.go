package permission

import (
	"testing"

	"keyward.org/internal/apperr"
)

func rp(role, perm int64, r, w, x Level) RolePermission {
	return RolePermission{RoleID: role, PermissionID: perm, Name: "p", Status: StatusActive, Read: r, Write: w, Execute: x}
}

func TestHasPermission(t *testing.T) {
	held := rp(1, 10, LevelOwn, LevelNone, LevelAll)
	cases := []struct {
		name string
		pass Pass
		want bool
	}{
		{"any read level", Pass{Permission: 10, Type: Read}, true},
		{"own read", Pass{Permission: 10, Type: Read, Level: LevelOwn.Ptr()}, true},
		{"all read needs all", Pass{Permission: 10, Type: Read, Level: LevelAll.Ptr()}, false},
		{"write is none", Pass{Permission: 10, Type: Write}, false},
		{"write none required still needs a grant", Pass{Permission: 10, Type: Write, Level: LevelNone.Ptr()}, false},
		{"execute all", Pass{Permission: 10, Type: Execute, Level: LevelAll.Ptr()}, true},
		{"other permission", Pass{Permission: 11, Type: Read}, false},
		{"unknown type", Pass{Permission: 10, Type: "delete"}, false},
	}
	for _, tc := range cases {
		if got := HasPermission(held, tc.pass); got != tc.want {
			t.Fatalf("%s: HasPermission=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAggregateTakesMaxPerType(t *testing.T) {
	set := Aggregate([]RolePermission{
		rp(1, 1, LevelOwn, LevelAll, LevelNone),
		rp(2, 1, LevelAll, LevelNone, LevelOwn),
		rp(2, 2, LevelNone, LevelOwn, LevelNone),
		{RoleID: 3, PermissionID: 1, Status: StatusDeleted, Read: LevelAll, Write: LevelAll, Execute: LevelAll},
	})
	got, ok := set.Get(1)
	if !ok {
		t.Fatalf("permission 1 missing")
	}
	if got.Read != LevelAll || got.Write != LevelAll || got.Execute != LevelOwn {
		t.Fatalf("unexpected aggregate %+v", got)
	}
	if len(set.List()) != 2 || set.List()[0].PermissionID != 1 {
		t.Fatalf("unexpected list %+v", set.List())
	}
}

func TestCanAccessScenario(t *testing.T) {
	// Role A grants OWN read; role B grants ALL read and OWN execute.
	set := Aggregate([]RolePermission{
		rp(1, 1, LevelOwn, LevelNone, LevelNone),
		rp(2, 1, LevelAll, LevelNone, LevelOwn),
	})
	eff, _ := set.Get(1)
	if eff.Read != LevelAll || eff.Execute != LevelOwn || eff.Write != LevelNone {
		t.Fatalf("unexpected effective permission %+v", eff)
	}
	if !set.CanAccess(Pass{Permission: 1, Type: Read, Level: LevelAll.Ptr()}) {
		t.Fatalf("read ALL should pass")
	}
	if set.CanAccess(Pass{Permission: 1, Type: Write}) {
		t.Fatalf("write should fail")
	}
	if set.CanAccess(Pass{Permission: 1, Type: Read}, Pass{Permission: 1, Type: Write}) {
		t.Fatalf("AND across passes: one failing pass must fail the check")
	}
	if !set.CanAccess(Pass{Permission: 1, Type: Read}, Pass{Permission: 1, Type: Execute, Level: LevelOwn.Ptr()}) {
		t.Fatalf("both passes satisfied")
	}
	if !set.CanAccess() {
		t.Fatalf("empty pass list is trivially satisfied")
	}
}

func TestParseLevelAndAccessType(t *testing.T) {
	for in, want := range map[string]Level{"none": LevelNone, "1": LevelOwn, " ALL ": LevelAll} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("3"); err == nil {
		t.Fatalf("expected error for level 3")
	}
	if at, err := ParseAccessType("Execute"); err != nil || at != Execute {
		t.Fatalf("ParseAccessType: %v %v", at, err)
	}
	if _, err := ParseAccessType("delete"); err == nil {
		t.Fatalf("expected error for delete")
	}
}

func TestGrantValidationUnion(t *testing.T) {
	bad := Level(5)
	codes := ValidateGrants([]Grant{
		{PermissionID: 1, Name: "ok", Read: LevelAll.Ptr(), Write: LevelNone.Ptr(), Execute: LevelNone.Ptr()},
		{PermissionID: 2, Name: "", Read: LevelOwn.Ptr(), Execute: LevelNone.Ptr()},
		{PermissionID: 0, Name: "x", Read: &bad, Write: LevelNone.Ptr(), Execute: LevelNone.Ptr()},
	})
	want := []apperr.Code{apperr.NameRequired, apperr.WriteLevelRequired, apperr.PermissionRequired, apperr.LevelInvalid}
	if len(codes) != len(want) {
		t.Fatalf("codes=%v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes=%v, want %v", codes, want)
		}
	}
}

func TestCheckPasses(t *testing.T) {
	bad := Level(-1)
	codes := CheckPasses([]Pass{{Permission: 0, Type: "x", Level: &bad}})
	if len(codes) != 3 {
		t.Fatalf("unexpected codes %v", codes)
	}
	if codes := CheckPasses([]Pass{{Permission: 1, Type: Read}}); len(codes) != 0 {
		t.Fatalf("unexpected codes %v", codes)
	}
}

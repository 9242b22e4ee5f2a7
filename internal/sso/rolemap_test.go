package sso

import (
	"testing"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

func TestMapRole_FirstMatchWins(t *testing.T) {
	rules := []repository.RoleRule{
		{SourceValue: "faculty", InternalRole: types.RoleInstructor},
		{SourceValue: "staff", InternalRole: types.RoleManager},
	}
	a := &Assertion{Groups: []string{"staff", "faculty"}}
	if got := MapRole(rules, a); got != types.RoleInstructor {
		t.Fatalf("MapRole = %q, quería %q (primera regla que matchea)", got, types.RoleInstructor)
	}
}

func TestMapRole_DefaultWithoutMatch(t *testing.T) {
	rules := []repository.RoleRule{
		{SourceValue: "faculty", InternalRole: types.RoleInstructor},
	}
	a := &Assertion{Groups: []string{"alumni"}}
	if got := MapRole(rules, a); got != types.DefaultRole {
		t.Fatalf("MapRole = %q, quería el default %q", got, types.DefaultRole)
	}
	if got := MapRole(nil, a); got != types.DefaultRole {
		t.Fatalf("MapRole sin reglas = %q, quería %q", got, types.DefaultRole)
	}
}

func TestMapRole_SourceMatchesWithinGroupName(t *testing.T) {
	// los IdP suelen prefijar/sufijar los nombres de grupo: el source
	// matchea por substring, no solo por igualdad
	rules := []repository.RoleRule{{SourceValue: "admins", InternalRole: types.RoleAdmin}}
	a := &Assertion{Groups: []string{"corp-admins-global"}}
	if got := MapRole(rules, a); got != types.RoleAdmin {
		t.Fatalf("MapRole = %q, quería %q para grupo que contiene el source", got, types.RoleAdmin)
	}
}

func TestMapRole_SourceCaseInsensitive(t *testing.T) {
	rules := []repository.RoleRule{{SourceValue: "Faculty", InternalRole: types.RoleInstructor}}
	a := &Assertion{Groups: []string{"FACULTY"}}
	if got := MapRole(rules, a); got != types.RoleInstructor {
		t.Fatalf("MapRole = %q, el match de grupos es case-insensitive", got)
	}
}

func TestMapRole_EmptySourceMatchesByConditions(t *testing.T) {
	rules := []repository.RoleRule{{
		InternalRole: types.RoleManager,
		Conditions: []repository.RoleCondition{
			{Attribute: "department", Op: "equals", Value: "operations"},
		},
	}}
	hit := &Assertion{Attributes: map[string]string{"department": "Operations"}}
	if got := MapRole(rules, hit); got != types.RoleManager {
		t.Fatalf("MapRole = %q, la regla sin SourceValue aplica por condiciones", got)
	}
	miss := &Assertion{Attributes: map[string]string{"department": "sales"}}
	if got := MapRole(rules, miss); got != types.DefaultRole {
		t.Fatalf("MapRole = %q, quería %q", got, types.DefaultRole)
	}
}

func TestMapRole_AllConditionsMustHold(t *testing.T) {
	rules := []repository.RoleRule{{
		SourceValue:  "staff",
		InternalRole: types.RoleAdmin,
		Conditions: []repository.RoleCondition{
			{Attribute: "department", Op: "equals", Value: "it"},
			{Attribute: "employment", Op: "not-equals", Value: "contractor"},
		},
	}}
	a := &Assertion{
		Groups:     []string{"staff"},
		Attributes: map[string]string{"department": "it", "employment": "contractor"},
	}
	if got := MapRole(rules, a); got != types.DefaultRole {
		t.Fatalf("MapRole = %q, una condición fallida invalida la regla", got)
	}
	a.Attributes["employment"] = "permanent"
	if got := MapRole(rules, a); got != types.RoleAdmin {
		t.Fatalf("MapRole = %q, quería %q", got, types.RoleAdmin)
	}
}

func TestMatchesCondition_Operators(t *testing.T) {
	a := &Assertion{Attributes: map[string]string{
		"title": "Senior Engineer",
		"site":  "mad",
	}}
	cases := []struct {
		name string
		cond repository.RoleCondition
		want bool
	}{
		{"equals", repository.RoleCondition{Attribute: "site", Op: "equals", Value: "MAD"}, true},
		{"equals-miss", repository.RoleCondition{Attribute: "site", Op: "equals", Value: "bcn"}, false},
		{"not-equals", repository.RoleCondition{Attribute: "site", Op: "not-equals", Value: "bcn"}, true},
		{"contains", repository.RoleCondition{Attribute: "title", Op: "contains", Value: "engineer"}, true},
		{"contains-miss", repository.RoleCondition{Attribute: "title", Op: "contains", Value: "manager"}, false},
		{"in", repository.RoleCondition{Attribute: "site", Op: "in", Value: "bcn, mad, vlc"}, true},
		{"in-miss", repository.RoleCondition{Attribute: "site", Op: "in", Value: "bcn,vlc"}, false},
		{"missing-attr", repository.RoleCondition{Attribute: "ghost", Op: "equals", Value: "x"}, false},
		// operador desconocido nunca matchea: una regla mal escrita no escala
		{"unknown-op", repository.RoleCondition{Attribute: "site", Op: "matches", Value: "mad"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchesCondition(tc.cond, a); got != tc.want {
				t.Fatalf("matchesCondition(%+v) = %v, quería %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestExtractProfile_AttributeMap(t *testing.T) {
	a := &Assertion{
		Subject: "abc123",
		Email:   "Fallback@Acme.Test",
		Attributes: map[string]string{
			"mail":       "Ana.Lopez@Acme.Test",
			"givenName":  "Ana",
			"sn":         "López",
			"dept":       "engineering",
			"memberOf":   "faculty, staff",
			"given_name": "ignored",
		},
	}
	p := extractProfile(repository.AttributeMap{
		"email":       "mail",
		"given_name":  "givenName",
		"family_name": "sn",
		"department":  "dept",
		"groups":      "memberOf",
	}, a)

	if p.Email != "ana.lopez@acme.test" {
		t.Fatalf("Email = %q, quería normalizado en minúsculas", p.Email)
	}
	if p.GivenName != "Ana" || p.FamilyName != "López" || p.Department != "engineering" {
		t.Fatalf("perfil = %+v", p)
	}
	if len(p.Groups) != 2 || p.Groups[0] != "faculty" || p.Groups[1] != "staff" {
		t.Fatalf("Groups = %v, quería split del claim mapeado", p.Groups)
	}
}

func TestExtractProfile_EmailFallback(t *testing.T) {
	a := &Assertion{Email: "Sub@Acme.Test", Attributes: map[string]string{}}
	p := extractProfile(repository.AttributeMap{}, a)
	if p.Email != "sub@acme.test" {
		t.Fatalf("Email = %q, quería el claim email de fallback", p.Email)
	}
}

func TestDomainAllowed(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		email   string
		want    bool
	}{
		{"empty-list", nil, "x@anywhere.test", true},
		{"allowed", []string{"acme.test"}, "ana@acme.test", true},
		{"case-insensitive", []string{"Acme.Test"}, "ana@ACME.TEST", true},
		{"denied", []string{"acme.test"}, "ana@evil.test", false},
		{"no-at", []string{"acme.test"}, "acme.test", false},
		{"spoofed-subdomain", []string{"acme.test"}, "ana@acme.test.evil.test", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domainAllowed(tc.allowed, tc.email); got != tc.want {
				t.Fatalf("domainAllowed(%v, %q) = %v, quería %v", tc.allowed, tc.email, got, tc.want)
			}
		})
	}
}

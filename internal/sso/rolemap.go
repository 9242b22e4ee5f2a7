package sso

import (
	"strings"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// MapRole evalúa las reglas en orden y retorna el rol interno de la
// primera que matchea. Sin match, el rol default de menor privilegio.
// Determinístico: mismas reglas + misma assertion = mismo rol.
func MapRole(rules []repository.RoleRule, a *Assertion) string {
	for _, rule := range rules {
		if !matchesSource(rule.SourceValue, a) {
			continue
		}
		if !matchesConditions(rule.Conditions, a) {
			continue
		}
		return rule.InternalRole
	}
	return types.DefaultRole
}

// matchesSource compara el rol/grupo externo contra los grupos de la
// assertion: igualdad o substring, case-insensitive. Vacío matchea
// siempre (regla solo de condiciones).
func matchesSource(source string, a *Assertion) bool {
	if source == "" {
		return true
	}
	src := strings.ToLower(source)
	for _, g := range a.Groups {
		if strings.Contains(strings.ToLower(g), src) {
			return true
		}
	}
	return false
}

func matchesConditions(conds []repository.RoleCondition, a *Assertion) bool {
	for _, c := range conds {
		if !matchesCondition(c, a) {
			return false
		}
	}
	return true
}

func matchesCondition(c repository.RoleCondition, a *Assertion) bool {
	got := a.Attributes[c.Attribute]
	switch c.Op {
	case "equals":
		return strings.EqualFold(got, c.Value)
	case "not-equals":
		return !strings.EqualFold(got, c.Value)
	case "contains":
		return strings.Contains(strings.ToLower(got), strings.ToLower(c.Value))
	case "in":
		for _, v := range strings.Split(c.Value, ",") {
			if strings.EqualFold(got, strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	default:
		// operador desconocido: la regla no aplica, nunca escala
		return false
	}
}

package sso

import (
	"context"
	"strings"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
)

// profile son los atributos normalizados de una assertion tras aplicar
// el attribute map del provider.
type profile struct {
	Email      string
	GivenName  string
	FamilyName string
	Department string
	Groups     []string
}

// extractProfile aplica el AttributeMap. Sin mapping para "email" se
// usan el claim email o el subject como fallback.
func extractProfile(m repository.AttributeMap, a *Assertion) profile {
	get := func(key, fallback string) string {
		if src, ok := m[key]; ok && src != "" {
			if v, ok := a.Attributes[src]; ok {
				return v
			}
			return ""
		}
		return fallback
	}

	p := profile{
		Email:      strings.ToLower(strings.TrimSpace(get("email", a.Email))),
		GivenName:  get("given_name", a.Attributes["given_name"]),
		FamilyName: get("family_name", a.Attributes["family_name"]),
		Department: get("department", ""),
		Groups:     a.Groups,
	}

	if len(p.Groups) == 0 {
		if src, ok := m["groups"]; ok && src != "" {
			if raw := a.Attributes[src]; raw != "" {
				for _, g := range strings.Split(raw, ",") {
					if g = strings.TrimSpace(g); g != "" {
						p.Groups = append(p.Groups, g)
					}
				}
			}
		}
	}
	return p
}

// domainAllowed verifica el dominio del email contra la allowlist del
// provider. Lista vacía = sin restricción.
func domainAllowed(allowed []string, email string) bool {
	if len(allowed) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range allowed {
		if strings.EqualFold(strings.TrimSpace(d), domain) {
			return true
		}
	}
	return false
}

// resolveIdentity busca la identidad por email y la crea vía JIT si el
// provider lo permite. El rol se asigna por role mapping solo en el
// provisioning; después lo gobiernan los admins.
func (o *orchestrator) resolveIdentity(ctx context.Context, p *repository.FederationProvider, prof profile, a *Assertion) (*repository.Identity, bool, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("sso"),
		logger.Op("resolveIdentity"),
		logger.ProviderID(p.ID),
	)

	identity, err := o.deps.Identities.GetByEmail(ctx, p.OrgID, prof.Email)
	if err == nil {
		o.syncAttributes(ctx, identity, prof)
		return identity, false, nil
	}
	if !repository.IsNotFound(err) {
		return nil, false, err
	}

	if !p.Settings.JITProvisioning {
		return nil, false, ErrPolicyViolation
	}

	role := types.DefaultRole
	if len(p.RoleRules) > 0 {
		a2 := *a
		a2.Groups = prof.Groups
		role = MapRole(p.RoleRules, &a2)
	}

	identity, err = o.deps.Identities.Create(ctx, repository.CreateIdentityInput{
		OrgID:      p.OrgID,
		Email:      prof.Email,
		Role:       role,
		GivenName:  prof.GivenName,
		FamilyName: prof.FamilyName,
		Department: prof.Department,
		Active:     p.Settings.AutoActivate,
	})
	if err != nil {
		if repository.IsConflict(err) {
			// carrera de primer login: otro request ya la creó
			identity, err = o.deps.Identities.GetByEmail(ctx, p.OrgID, prof.Email)
			if err != nil {
				return nil, false, err
			}
			return identity, false, nil
		}
		return nil, false, err
	}

	log.Info("identidad provisionada JIT",
		logger.IdentityID(identity.ID),
		logger.Email(prof.Email),
		logger.String("role", role),
	)
	return identity, true, nil
}

// syncAttributes actualiza atributos de perfil que vinieron en la
// assertion. Best-effort: un fallo de sync no frena el login.
func (o *orchestrator) syncAttributes(ctx context.Context, identity *repository.Identity, prof profile) {
	in := repository.UpdateAttributesInput{}
	changed := false
	if prof.GivenName != "" && prof.GivenName != identity.GivenName {
		in.GivenName = &prof.GivenName
		changed = true
	}
	if prof.FamilyName != "" && prof.FamilyName != identity.FamilyName {
		in.FamilyName = &prof.FamilyName
		changed = true
	}
	if prof.Department != "" && prof.Department != identity.Department {
		in.Department = &prof.Department
		changed = true
	}
	if !changed {
		return
	}
	if err := o.deps.Identities.UpdateAttributes(ctx, identity.ID, in); err != nil {
		logger.From(ctx).Warn("sync de atributos falló",
			logger.Component("sso"), logger.IdentityID(identity.ID), logger.Err(err))
	}
}

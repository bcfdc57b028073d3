package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"keyward.org/internal/authz"
	"keyward.org/internal/credential"
	"keyward.org/internal/permission"
	"keyward.org/internal/principal"
)

func subcommand(args []string, group string) (string, []string, bool) {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage: keyward %s <command> [flags]\n", group)
		return "", nil, false
	}
	return args[0], args[1:], true
}

func unknown(group, name string) int {
	fmt.Fprintf(os.Stderr, "unknown %s command %q\n", group, name)
	return 2
}

func (a *app) user(ctx context.Context, args []string) int {
	name, rest, ok := subcommand(args, "user")
	if !ok {
		return 2
	}
	fs := flag.NewFlagSet("user "+name, flag.ContinueOnError)
	var (
		id       = fs.Int64("id", 0, "principal id")
		username = fs.String("username", "", "username")
		email    = fs.String("email", "", "email address")
		password = fs.String("password", "", "password")
		oldPass  = fs.String("old", "", "current password")
		pin      = fs.String("pin", "", "4-digit PIN")
		status   = fs.String("status", "", "ACTIVE or INACTIVE")
		force    = fs.Bool("force", false, "skip the current password check")
	)
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	switch name {
	case "create":
		u := authz.NewUser{ID: *id, Username: *username, Password: *password}
		if *email != "" {
			u.Email = email
		}
		if *pin != "" {
			u.PIN = pin
		}
		if *status != "" {
			s, err := principal.ParseStatus(*status)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 2
			}
			u.Status = s
		}
		return emit(a.facade.CreateAuthUser(ctx, u))
	case "get":
		return emit(a.facade.GetPrincipal(ctx, *id))
	case "delete":
		return emit(a.facade.DeleteAuthUser(ctx, *id))
	case "passwd":
		return emit(a.facade.ChangePassword(ctx, *id, *oldPass, *password, *force))
	case "email":
		return emit(a.facade.ChangeEmail(ctx, *id, *email))
	case "username":
		return emit(a.facade.ChangeUsername(ctx, *id, *username))
	case "pin":
		return emit(a.facade.SetPIN(ctx, *id, *pin))
	case "status":
		s, err := principal.ParseStatus(*status)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		return emit(a.facade.SetStatus(ctx, *id, s))
	case "logout-all":
		return emit(a.facade.LogoutEverywhere(ctx, *id))
	default:
		return unknown("user", name)
	}
}

func (a *app) role(ctx context.Context, args []string) int {
	name, rest, ok := subcommand(args, "role")
	if !ok {
		return 2
	}
	fs := flag.NewFlagSet("role "+name, flag.ContinueOnError)
	var (
		id          = fs.Int64("id", 0, "role id")
		roleName    = fs.String("name", "", "role name")
		principalID = fs.Int64("principal", 0, "principal id")
		roles       = fs.String("roles", "", "comma separated role ids")
		perms       = fs.String("perms", "", "comma separated permission ids")
		grants      = fs.String("grants", "", `JSON array of {"permission_id","name","read","write","execute"}`)
	)
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	switch name {
	case "create":
		return emit(a.facade.CreateRole(ctx, *roleName))
	case "delete":
		return emit(a.facade.DeleteRole(ctx, *id))
	case "list":
		return emit(a.facade.Roles(ctx))
	case "perms":
		return emit(a.facade.RolePermissions(ctx, *id))
	case "roles":
		return emit(a.facade.PrincipalRoles(ctx, *principalID))
	case "grant", "revoke":
		ids, err := parseIDs(*roles)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if name == "grant" {
			return emit(a.facade.GrantRoles(ctx, *principalID, ids...))
		}
		return emit(a.facade.RevokeRoles(ctx, *principalID, ids...))
	case "add-perms", "update-perms":
		var list []permission.Grant
		if err := json.Unmarshal([]byte(*grants), &list); err != nil {
			fmt.Fprintf(os.Stderr, "grants: %v\n", err)
			return 2
		}
		if name == "add-perms" {
			return emit(a.facade.AddPermissionsToRole(ctx, *id, list...))
		}
		return emit(a.facade.UpdateRolePermissions(ctx, *id, list...))
	case "remove-perms":
		ids, err := parseIDs(*perms)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		return emit(a.facade.RemovePermissionsFromRole(ctx, *id, ids...))
	default:
		return unknown("role", name)
	}
}

func (a *app) access(ctx context.Context, args []string) int {
	name, rest, ok := subcommand(args, "access")
	if !ok {
		return 2
	}
	fs := flag.NewFlagSet("access "+name, flag.ContinueOnError)
	var (
		principalID = fs.Int64("principal", 0, "principal id")
		passes      passList
	)
	fs.Var(&passes, "pass", "required permission as id:type[:level], repeatable")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	switch name {
	case "check":
		return emit(a.facade.CheckAccess(ctx, *principalID, passes...))
	case "effective":
		return emit(a.facade.EffectivePermissions(ctx, *principalID))
	default:
		return unknown("access", name)
	}
}

func (a *app) login(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var (
		email    = fs.String("email", "", "email address")
		username = fs.String("username", "", "username")
		password = fs.String("password", "", "password")
		pin      = fs.String("pin", "", "4-digit PIN")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	switch {
	case *pin != "":
		return emit(a.facade.LoginByPIN(ctx, *pin))
	case *email != "":
		return emit(a.facade.LoginByEmail(ctx, *email, *password))
	default:
		return emit(a.facade.LoginByUsername(ctx, *username, *password))
	}
}

func (a *app) token(ctx context.Context, args []string) int {
	name, rest, ok := subcommand(args, "token")
	if !ok {
		return 2
	}
	fs := flag.NewFlagSet("token "+name, flag.ContinueOnError)
	var (
		token       = fs.String("token", "", "signed credential")
		subject     = fs.String("subject", authz.SubjectAuthentication, "credential subject")
		principalID = fs.Int64("principal", 0, "owning principal id, 0 for none")
		payload     = fs.String("payload", "{}", "JSON object of claims")
		ttl         = fs.String("ttl", "", "lifetime such as 1h or 7d, default from KEYWARD_TOKEN_TTL")
	)
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	var owner *int64
	if *principalID > 0 {
		owner = principalID
	}

	switch name {
	case "issue":
		var claims map[string]any
		if err := json.Unmarshal([]byte(*payload), &claims); err != nil {
			fmt.Fprintf(os.Stderr, "payload: %v\n", err)
			return 2
		}
		lifetime := a.cfg.TokenTTL
		if *ttl != "" {
			d, err := credential.ParseTTL(*ttl)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 2
			}
			lifetime = d
		}
		return emit(a.facade.IssueToken(ctx, claims, *subject, owner, lifetime))
	case "validate":
		return emit(a.facade.ValidateToken(ctx, *token, *subject, owner))
	case "whoami":
		return emit(a.facade.Authenticate(ctx, *token))
	case "revoke":
		return emit(a.facade.Logout(ctx, *token))
	case "refresh":
		return emit(a.facade.RefreshSession(ctx, *token))
	default:
		return unknown("token", name)
	}
}

// passList collects repeated -pass flags.
type passList []permission.Pass

func (p *passList) String() string {
	parts := make([]string, len(*p))
	for i, pass := range *p {
		parts[i] = fmt.Sprintf("%d:%s", pass.Permission, pass.Type)
		if pass.Level != nil {
			parts[i] += ":" + pass.Level.String()
		}
	}
	return strings.Join(parts, ",")
}

func (p *passList) Set(v string) error {
	pass, err := parsePass(v)
	if err != nil {
		return err
	}
	*p = append(*p, pass)
	return nil
}

// parsePass reads "id:type" or "id:type:level".
func parsePass(v string) (permission.Pass, error) {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return permission.Pass{}, fmt.Errorf("pass %q: want id:type[:level]", v)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return permission.Pass{}, fmt.Errorf("pass %q: %w", v, err)
	}
	t, err := permission.ParseAccessType(parts[1])
	if err != nil {
		return permission.Pass{}, err
	}
	pass := permission.Pass{Permission: id, Type: t}
	if len(parts) == 3 {
		lvl, err := permission.ParseLevel(parts[2])
		if err != nil {
			return permission.Pass{}, err
		}
		pass.Level = lvl.Ptr()
	}
	return pass, nil
}

func parseIDs(v string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}

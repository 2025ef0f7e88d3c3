// Package guard decides where navigation should go given the resolved
// session state. Decide is a pure function of its input.
package guard

import "strings"

type Routes struct {
	// AuthPaths are reachable without a session.
	AuthPaths     []string
	DefaultPublic string
	Landing       string
	Root          string
	// AdminPrefixes are only for admins; others are sent to Landing.
	AdminPrefixes []string
}

func DefaultRoutes() Routes {
	return Routes{
		AuthPaths:     []string{"/login", "/signup"},
		DefaultPublic: "/login",
		Landing:       "/field",
		Root:          "/",
		AdminPrefixes: []string{"/admin"},
	}
}

type State struct {
	Loading       bool
	Authenticated bool
	Admin         bool
	Path          string
}

type Decision struct {
	Redirect bool
	To       string
	// Replace means the current entry should not stay in history.
	Replace bool
}

func (rt Routes) Decide(s State) Decision {
	if s.Loading {
		return Decision{}
	}
	authRoute := rt.IsAuthPath(s.Path)
	if !s.Authenticated {
		if !authRoute {
			return redirect(rt.DefaultPublic)
		}
		return Decision{}
	}
	if authRoute || s.Path == rt.Root {
		return redirect(rt.Landing)
	}
	if !s.Admin && rt.isAdminPath(s.Path) {
		return redirect(rt.Landing)
	}
	return Decision{}
}

func (rt Routes) IsAuthPath(path string) bool {
	for _, p := range rt.AuthPaths {
		if p == path {
			return true
		}
	}
	return false
}

func (rt Routes) isAdminPath(path string) bool {
	for _, prefix := range rt.AdminPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func redirect(to string) Decision {
	return Decision{Redirect: true, To: to, Replace: true}
}

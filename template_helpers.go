package auth

import "strings"

// TemplateHelpers returns functions for template engines that receive the
// props produced by Controller.Props.
//
// Usage with the django engine:
//
//	engine := django.New("./views", ".html")
//	for name, fn := range auth.TemplateHelpers() {
//		engine.AddFunc(name, fn)
//	}
//
// In templates:
//
//	{% if is_authenticated(user) %}Hi {{ display_name(user) }}{% endif %}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"display_name":     displayName,
		"has_role":         hasRole,
	}
}

// isAuthenticated checks if the provided user object is not nil
func isAuthenticated(user any) bool {
	return UserFromValue(user) != nil
}

func displayName(user any) string {
	u := UserFromValue(user)
	if u == nil {
		return ""
	}

	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	switch {
	case name != "":
		return name
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// hasRole checks if the user has the specified role
func hasRole(user any, role string) bool {
	u := UserFromValue(user)
	if u == nil {
		return false
	}
	return u.Role == UserRole(role)
}

package services

import "strings"

// reservedUsernames blocks handles that collide with system routes, service
// identities, or names held back for the platform itself.
var reservedUsernames = map[string]struct{}{
	// system/admin
	"admin": {}, "administrator": {}, "root": {}, "system": {}, "sys": {},
	// service/api
	"api": {}, "service": {}, "services": {}, "www": {}, "mail": {}, "email": {},
	"support": {}, "help": {}, "info": {}, "contact": {}, "about": {},
	"terms": {}, "privacy": {}, "legal": {},
	// common placeholders
	"null": {}, "undefined": {}, "true": {}, "false": {},
	"test": {}, "testing": {}, "demo": {}, "example": {}, "sample": {},
	// auth routes
	"auth": {}, "login": {}, "logout": {}, "register": {}, "registration": {},
	"signup": {}, "signin": {}, "signout": {}, "password": {}, "reset": {},
	"verify": {}, "verification": {},
	// user management
	"user": {}, "users": {}, "account": {}, "accounts": {}, "profile": {},
	"profiles": {}, "settings": {}, "moderator": {}, "mod": {},
	// common paths
	"home": {}, "index": {}, "dashboard": {}, "app": {}, "application": {},
	"blog": {}, "news": {}, "feed": {}, "search": {}, "explore": {},
	// held back for the platform
	"reeltask": {}, "reeltask-admin": {}, "reeltask-api": {},
}

// IsReservedUsername reports whether the handle is on the reserved list.
func IsReservedUsername(username string) bool {
	_, ok := reservedUsernames[strings.ToLower(strings.TrimSpace(username))]
	return ok
}

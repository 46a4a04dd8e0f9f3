package models

import "strings"

// Actor identifies who performed a mutation. Every history row is attributed to one.
type Actor struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Role   UserRole `json:"role"`
	System bool     `json:"system"`
}

// SystemActor is the reserved identity used when no authenticated user is available.
func SystemActor(id, name string) Actor {
	if strings.TrimSpace(name) == "" {
		name = "system"
	}
	return Actor{ID: id, Name: name, Role: RoleSystem, System: true}
}

// ActorFromClaims maps verified token claims to an actor.
func ActorFromClaims(claims *JWTClaims) (Actor, bool) {
	if claims == nil || strings.TrimSpace(claims.UserID) == "" {
		return Actor{}, false
	}
	return Actor{ID: claims.UserID, Name: claims.FullName, Role: claims.Role}, true
}

package scope

import (
	"errors"
	"strings"

	"github.com/pledgeflow/reconciler/internal/authorization"
)

type Scope string

var ErrInvalidScope = errors.New("invalid_scope")

const (
	ScopeSubscriptionView     Scope = "subscription:view"
	ScopeSubscriptionCreate   Scope = "subscription:create"
	ScopeSubscriptionActivate Scope = "subscription:activate"
	ScopeSubscriptionPause    Scope = "subscription:pause"
	ScopeSubscriptionResume   Scope = "subscription:resume"
	ScopeSubscriptionCancel   Scope = "subscription:cancel"
	ScopeSubscriptionEnd      Scope = "subscription:end"

	ScopeAPIKeyView   Scope = "api_key:view"
	ScopeAPIKeyCreate Scope = "api_key:create"
	ScopeAPIKeyRotate Scope = "api_key:rotate"
	ScopeAPIKeyRevoke Scope = "api_key:revoke"

	ScopeAuditLogView Scope = "audit_log:view"

	ScopeReadAPIView Scope = "read_api:view"
)

type authzKey struct {
	object string
	action string
}

var authzScopeMap = map[authzKey]Scope{
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionView)}:     ScopeSubscriptionView,
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionCreate)}:   ScopeSubscriptionCreate,
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionActivate)}: ScopeSubscriptionActivate,
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionPause)}:    ScopeSubscriptionPause,
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionResume)}:   ScopeSubscriptionResume,
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionCancel)}:   ScopeSubscriptionCancel,
	{normalize(authorization.ObjectSubscription), normalize(authorization.ActionSubscriptionEnd)}:      ScopeSubscriptionEnd,

	{normalize(authorization.ObjectAPIKey), normalize(authorization.ActionAPIKeyView)}:   ScopeAPIKeyView,
	{normalize(authorization.ObjectAPIKey), normalize(authorization.ActionAPIKeyCreate)}: ScopeAPIKeyCreate,
	{normalize(authorization.ObjectAPIKey), normalize(authorization.ActionAPIKeyRotate)}: ScopeAPIKeyRotate,
	{normalize(authorization.ObjectAPIKey), normalize(authorization.ActionAPIKeyRevoke)}: ScopeAPIKeyRevoke,

	{normalize(authorization.ObjectAuditLog), normalize(authorization.ActionAuditLogView)}: ScopeAuditLogView,

	{normalize(authorization.ObjectReadAPI), normalize(authorization.ActionReadAPIView)}: ScopeReadAPIView,
}

var allScopes = []Scope{
	ScopeSubscriptionView,
	ScopeSubscriptionCreate,
	ScopeSubscriptionActivate,
	ScopeSubscriptionPause,
	ScopeSubscriptionResume,
	ScopeSubscriptionCancel,
	ScopeSubscriptionEnd,
	ScopeAPIKeyView,
	ScopeAPIKeyCreate,
	ScopeAPIKeyRotate,
	ScopeAPIKeyRevoke,
	ScopeAuditLogView,
	ScopeReadAPIView,
}

var validScopes = func() map[string]struct{} {
	lookup := make(map[string]struct{}, len(allScopes))
	for _, scope := range allScopes {
		lookup[normalize(string(scope))] = struct{}{}
	}
	return lookup
}()

func All() []string {
	values := make([]string, len(allScopes))
	for i, scope := range allScopes {
		values[i] = string(scope)
	}
	return values
}

func FromAuthz(object string, action string) Scope {
	key := authzKey{object: normalize(object), action: normalize(action)}
	if scope, ok := authzScopeMap[key]; ok {
		return scope
	}
	return ""
}

func Has(scopes []string, required Scope) bool {
	requiredScope := normalize(string(required))
	if requiredScope == "" {
		return false
	}

	requiredObject := strings.SplitN(requiredScope, ":", 2)[0]

	for _, scope := range scopes {
		normalized := normalize(scope)
		if normalized == "" {
			continue
		}
		if normalized == "*" {
			return true
		}
		if normalized == requiredScope {
			return true
		}
		if requiredObject != "" && (normalized == requiredObject+":*" || normalized == requiredObject+".*") {
			return true
		}
	}
	return false
}

func Validate(scopes []string) error {
	normalized := Normalize(scopes)
	for _, scope := range normalized {
		if IsValid(scope) {
			continue
		}
		if strings.HasSuffix(scope, ":*") || strings.HasSuffix(scope, ".*") {
			continue
		}
		return ErrInvalidScope
	}
	return nil
}

func Normalize(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(scopes))
	normalized := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		value := normalize(scope)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	return normalized
}

func IsValid(scope string) bool {
	_, ok := validScopes[normalize(scope)]
	return ok
}

func normalize(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	return strings.ReplaceAll(normalized, ".", ":")
}

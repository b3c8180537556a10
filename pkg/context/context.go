package context

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	TenantIDKey  = ContextKey("X-Tenant-Id")
	UserIDKey    = ContextKey("X-User-Id")
)

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	return getString(ctx, TenantIDKey)
}

// GetActor returns the user id as the actor recorded on matches and audit entries, nil when anonymous
func GetActor(ctx context.Context) *string {
	userID := GetUserID(ctx)
	if userID == "" {
		return nil
	}
	return &userID
}

// GetScope combines the request tenant with a dataset id
func GetScope(ctx context.Context, datasetID string) models.Scope {
	return models.Scope{TenantID: GetTenantID(ctx), DatasetID: datasetID}
}

// LogFields returns the request identity fields attached to every log line
func LogFields(ctx context.Context) map[string]any {
	fields := make(map[string]any)
	for key, value := range map[string]string{
		"request_id": GetRequestID(ctx),
		"tenant_id":  GetTenantID(ctx),
		"user_id":    GetUserID(ctx),
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}

package tenant

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// HeaderTenantID is the request header consulted by the resolver.
const HeaderTenantID = "X-Tenant-Id"

// attributeKey is the gin request attribute an upstream auth layer may set.
const attributeKey = "tenant_id"

// Resolver identifies the tenant for the current request from, in order:
// the request attribute, the X-Tenant-Id header, and the request-scoped
// ambient context. Falls back to the default tenant.
type Resolver struct{}

// Resolve returns the tenant ID for the request.
func (Resolver) Resolve(c *gin.Context) string {
	if v, ok := c.Get(attributeKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	if id := c.GetHeader(HeaderTenantID); id != "" {
		return id
	}
	if id := FromContext(c.Request.Context()); id != "" {
		return id
	}
	return models.DefaultTenantID
}

// Middleware resolves the tenant and stamps it into the request attribute
// and the request context. The ambient value lives exactly as long as the
// request.
func Middleware(logger *slog.Logger) gin.HandlerFunc {
	var resolver Resolver
	return func(c *gin.Context) {
		id := resolver.Resolve(c)
		c.Set(attributeKey, id)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), id))
		if logger != nil && id != models.DefaultTenantID {
			logger.Debug("Tenant resolved", "tenant_id", id, "path", c.Request.URL.Path)
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicAttributes decorates the transaction started by nrgin with the
// dispatch identifiers on the route and reports handler errors. It must run
// after nrgin.Middleware; without a transaction it does nothing.
func NewRelicAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		txn := nrgin.Transaction(c)
		if txn == nil {
			return
		}

		if id := c.Param("id"); id != "" {
			txn.AddAttribute("resource.id", id)
		}
		if key := c.GetHeader(idempotencyHeader); key != "" {
			txn.AddAttribute("idempotency.key", key)
		}
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}

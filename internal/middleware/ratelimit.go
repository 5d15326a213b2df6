package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"listing-studio-backend/internal/models"
)

// WorkspaceRateLimiter limits requests per active workspace, falling back to
// the client IP. rateFormatted uses limiter syntax: "30-M", "500-H". Empty
// disables limiting. Use after AuthMiddleware.
func WorkspaceRateLimiter(rateFormatted string) (gin.HandlerFunc, error) {
	if rateFormatted == "" {
		return func(c *gin.Context) { c.Next() }, nil
	}
	rate, err := limiter.NewRateFromFormatted(rateFormatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), rate)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if workspaceID, ok := WorkspaceID(c); ok {
			key = "workspace:" + workspaceID.String()
		}

		lctx, err := instance.Increment(c.Request.Context(), key, 1)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "too many generation requests, try again later",
			})
			return
		}
		c.Next()
	}, nil
}

package endpoint

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsFunc reports a snapshot of one subsystem, e.g. limiter usage.
type StatsFunc func() map[string]any

// Metrics reports runtime memory and goroutine figures plus one entry per
// named StatsFunc.
func Metrics(stats map[string]StatsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		body := gin.H{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb":       m.Alloc / 1024 / 1024,
				"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
				"sys_mb":         m.Sys / 1024 / 1024,
				"gc_runs":        m.NumGC,
			},
		}
		for name, fn := range stats {
			if _, taken := body[name]; taken || fn == nil {
				continue
			}
			body[name] = fn()
		}
		c.JSON(http.StatusOK, body)
	}
}

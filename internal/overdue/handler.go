package overdue

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	// cron からの手動起動用。定期実行は RunDailyScan が担う。
	r.POST("/overdue/scan", h.Scan)
}

func (h *Handler) Scan(c *gin.Context) {
	report, err := h.svc.ScanOverdue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code": "INTERNAL", "message": err.Error(),
		}})
		return
	}
	c.JSON(http.StatusOK, report)
}

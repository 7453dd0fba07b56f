package main

import (
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/models/reports"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	"github.com/gin-gonic/gin"
)

// monthFilter reads the optional ?month=YYYY-MM query parameter. Returns
// nil when absent, an error response already written when malformed.
func monthFilter(c *gin.Context) (*string, bool) {
	month := c.Query("month")
	if month == "" {
		return nil, true
	}
	if !utils.IsValidMonthBucket(month) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be in YYYY-MM format"})
		return nil, false
	}
	return &month, true
}

func dashboardHandler(c *gin.Context) {
	month := c.Query("month")
	if month == "" {
		month = utils.CurrentMonthBucket()
	}
	if !utils.IsValidMonthBucket(month) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be in YYYY-MM format"})
		return
	}

	report, err := reports.GetDashboardReport(c.Request.Context(), month)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func historyHandler(c *gin.Context) {
	month, ok := monthFilter(c)
	if !ok {
		return
	}

	records, err := models.ListScanRecords(c.Request.Context(), month)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func historyMonthsHandler(c *gin.Context) {
	months, err := models.ListScanMonths(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, months)
}

func historyExportHandler(c *gin.Context) {
	month, ok := monthFilter(c)
	if !ok {
		return
	}

	file, filename, err := reports.ExportHistoryExcel(c.Request.Context(), month)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := file.Write(c.Writer); err != nil {
		// headers already sent, nothing more to do
		return
	}
}

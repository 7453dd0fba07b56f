package reports

import (
	"context"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
)

type SiteCounts struct {
	Site     string `json:"site"`
	Ok       int64  `json:"ok"`
	NotFound int64  `json:"not_found"`
}

type DashboardResponse struct {
	Month        string        `json:"month"`
	Sites        []*SiteCounts `json:"sites"`
	CyclesClosed int64         `json:"cycles_closed"`
}

// GetDashboardReport aggregates scan outcomes per site for one month
// bucket, plus the number of cycles closed in that month (across all
// sites, since cycles are global). Pure read-side consumer of the scan
// history.
func GetDashboardReport(ctx context.Context, month string) (*DashboardResponse, error) {
	if month == "" {
		month = utils.CurrentMonthBucket()
	}

	cacheKey := "dashboard:" + month
	if reportCacheEnabled() {
		var cached DashboardResponse
		if hit, err := cacheGet(cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	sql := `
SELECT
	site,
	SUM(CASE WHEN status = 'OK' THEN 1 ELSE 0 END) AS ok,
	SUM(CASE WHEN status = 'NotFound' THEN 1 ELSE 0 END) AS not_found
FROM
	scan_records
WHERE
	month = ?
GROUP BY
	site
ORDER BY
	site
`

	var sites []*SiteCounts
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, month).Scan(&sites).Error; err != nil {
		return nil, err
	}

	cyclesClosed, err := models.CountCyclesClosedInMonth(ctx, month)
	if err != nil {
		return nil, err
	}

	response := &DashboardResponse{
		Month:        month,
		Sites:        sites,
		CyclesClosed: cyclesClosed,
	}
	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, response, reportCacheTTL())
	}
	return response, nil
}

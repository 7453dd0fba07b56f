package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/inventory"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
)

func operatorFromContext(ctx context.Context) (inventory.Operator, bool) {
	name, ok := utils.GetUsernameFromContext(ctx)
	if !ok || name == "" {
		return inventory.Operator{}, false
	}
	site, ok := utils.GetSiteFromContext(ctx)
	if !ok || site == "" {
		return inventory.Operator{}, false
	}
	return inventory.Operator{Name: name, Site: site}, true
}

func writeInventoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrCycleActive),
		errors.Is(err, inventory.ErrNoActiveCycle):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, inventory.ErrCardNotFound),
		errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// withCycleLock serializes cycle open/close across replicas. Without
// redis the database-level lock inside the store still protects a single
// instance, so the handler just runs.
func withCycleLock(ctx context.Context, fn func() error) error {
	locker := config.GetRedisLock()
	if locker == nil {
		return fn()
	}
	lock, err := locker.Obtain(ctx, "cardinv:cycle-lock", 10*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return inventory.ErrCycleActive
	}
	if err != nil {
		return err
	}
	defer lock.Release(ctx)
	return fn()
}

// getInventoryHandler returns the current cycle state along with the
// site's card list, which is what the scan screen renders.
func getInventoryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	cycle, err := invService.ActiveCycle(ctx)
	if err != nil {
		writeInventoryError(c, err)
		return
	}
	cards, err := models.ListCards(ctx)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": cycle != nil, "cycle": cycle, "cards": cards})
}

func openInventoryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	op, ok := operatorFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := withCycleLock(ctx, func() error {
		cycle, err := invService.OpenCycle(ctx, op)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, cycle)
		return nil
	})
	if err != nil {
		writeInventoryError(c, err)
	}
}

type scanRequest struct {
	Number string `json:"number" binding:"required"`
}

func scanInventoryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	op, ok := operatorFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	result, err := invService.RecordScan(ctx, op, req.Number)
	if err != nil {
		writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func closeInventoryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	op, ok := operatorFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := withCycleLock(ctx, func() error {
		result, err := invService.CloseCycle(ctx, op)
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, result)
		return nil
	})
	if err != nil {
		writeInventoryError(c, err)
	}
}

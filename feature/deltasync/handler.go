package deltasync

import (
	"errors"
	"strconv"
	"strings"

	"delta-sync/core/logger"
	"delta-sync/feature/deltasync/models"
	"delta-sync/feature/deltasync/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler serves the sync ops endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the sync routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/sync")
	group.Get("/batches", h.HandleListBatches)
	group.Get("/batches/:id", h.HandleGetBatch)
	group.Post("/batches/:id/abandon", h.HandleAbandonBatch)
	group.Post("/rows/:id/reset", h.HandleResetRow)
	group.Get("/snapshots/:key", h.HandleGetSnapshot)
	group.Post("/run", h.HandleRun)
}

// HandleListBatches lists batches, filtered by ?status=PENDING,PROCESSING.
func (h *Handler) HandleListBatches(c *fiber.Ctx) error {
	var statuses []models.BatchStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, models.BatchStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}

	batches, err := h.service.ListBatches(c.Context(), statuses...)
	if err != nil {
		return h.fail(c, err)
	}
	for i := range batches {
		batches[i].Rows = nil
	}
	return c.JSON(fiber.Map{"batches": batches, "count": len(batches)})
}

// HandleGetBatch returns one batch with its rows.
func (h *Handler) HandleGetBatch(c *fiber.Ctx) error {
	batch, err := h.service.GetBatch(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(batch)
}

// HandleGetSnapshot returns the confirmed snapshot of one natural key.
func (h *Handler) HandleGetSnapshot(c *fiber.Ctx) error {
	snap, err := h.service.GetSnapshot(c.Context(), c.Params("key"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

// HandleResetRow queues an ERROR row for replay.
func (h *Handler) HandleResetRow(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "row id must be numeric"})
	}
	if err := h.service.ResetRow(c.Context(), uint(id)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "reset", "row_id": id})
}

// HandleAbandonBatch closes a batch stuck in PROCESSING.
func (h *Handler) HandleAbandonBatch(c *fiber.Ctx) error {
	status, err := h.service.AbandonBatch(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": status, "batch_id": c.Params("id")})
}

// HandleRun executes one sync run and returns its summary. Options come from
// the JSON body or the dry_run, customer and limit query parameters.
func (h *Handler) HandleRun(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	var opts RunOptions
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&opts); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid run options"})
		}
	}
	if c.Query("dry_run") == "true" {
		opts.DryRun = true
	}
	if v := c.Query("customer"); v != "" {
		opts.Customer = v
	}
	if v := c.QueryInt("limit", 0); v > 0 {
		opts.Limit = v
	}

	l.Info("Sync run requested", zap.Bool("dry_run", opts.DryRun), zap.String("customer", opts.Customer))
	summary, err := h.service.Run(c.Context(), opts)
	if summary == nil {
		return h.fail(c, err)
	}
	if err != nil {
		l.Error("Sync run stopped early", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "summary": summary})
	}
	return c.JSON(summary)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrInFlight), errors.Is(err, ErrRunInProgress):
		status = fiber.StatusConflict
	default:
		logger.WithRayID(h.service.logger, c).Error("Sync request failed", zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

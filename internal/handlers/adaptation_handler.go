package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"competency-service/internal/middleware"
	"competency-service/internal/models"
	"competency-service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type AdaptationHandler struct {
	adaptationService *service.AdaptationService
}

func NewAdaptationHandler(adaptationService *service.AdaptationService) *AdaptationHandler {
	return &AdaptationHandler{
		adaptationService: adaptationService,
	}
}

func (h *AdaptationHandler) RegisterRoutes(app *fiber.App) {
	protectedGroup := app.Group("/protected/adaptation", middleware.RequireUser())

	protectedGroup.Post("/recommendations", h.GetRecommendations)
	protectedGroup.Get("/user/:userID/next", h.GetNextActivity, middleware.RequireOwnerOrElevated("userID"))
}

// GetRecommendations serves the full ranked batch for a customizable request.
func (h *AdaptationHandler) GetRecommendations(c fiber.Ctx) error {
	var req models.AdaptationRequest

	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		req.UserID = c.Get(middleware.UserIDHeader)
	}
	if req.Strategy != "" && !req.Strategy.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown selection strategy: " + string(req.Strategy),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := h.adaptationService.GetRecommendations(ctx, &req)
	if err != nil {
		log.Printf("Failed to build recommendations for %s: %v", req.UserID, err)

		if strings.Contains(err.Error(), "missing") || strings.Contains(err.Error(), "unknown") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build recommendations",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Recommendations generated successfully",
		"data": fiber.Map{
			"recommendations": resp,
		},
	})
}

// GetNextActivity is the default-shaped request: no goals, default strategy.
func (h *AdaptationHandler) GetNextActivity(c fiber.Ctx) error {
	userID := c.Params("userID")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := h.adaptationService.GetRecommendations(ctx, &models.AdaptationRequest{UserID: userID})
	if err != nil {
		log.Printf("Failed to get next activity for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get next activity",
		})
	}
	if resp.Next == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No eligible activity for this learner",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Next activity selected successfully",
		"data": fiber.Map{
			"next":               resp.Next,
			"alternatives":       resp.Alternatives,
			"refresh_in_minutes": resp.RefreshInMinutes,
		},
	})
}

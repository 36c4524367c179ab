package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"competency-service/internal/middleware"
	"competency-service/internal/models"
	"competency-service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type CompetencyHandler struct {
	competencyService *service.CompetencyService
}

func NewCompetencyHandler(competencyService *service.CompetencyService) *CompetencyHandler {
	return &CompetencyHandler{
		competencyService: competencyService,
	}
}

func (h *CompetencyHandler) RegisterRoutes(app *fiber.App) {
	protectedGroup := app.Group("/protected/competency", middleware.RequireUser())

	protectedGroup.Post("/update", h.UpdateCompetency)
	protectedGroup.Post("/batch", h.BatchUpdateCompetencies)
	protectedGroup.Get("/user/:userID", h.GetCompetencyProfile, middleware.RequireOwnerOrElevated("userID"))
	protectedGroup.Get("/user/:userID/skill/:skillID", h.GetSkillCompetency, middleware.RequireOwnerOrElevated("userID"))
	protectedGroup.Get("/user/:userID/skill/:skillID/history", h.GetPerformanceHistory, middleware.RequireOwnerOrElevated("userID"))
	protectedGroup.Delete("/user/:userID/cache", h.InvalidateUserCache, middleware.RequireOwnerOrElevated("userID"))
}

func (h *CompetencyHandler) UpdateCompetency(c fiber.Ctx) error {
	var req models.UpdateCompetencyRequest

	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		req.UserID = c.Get(middleware.UserIDHeader)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.competencyService.UpdateCompetency(ctx, &req)
	if err != nil {
		log.Printf("Failed to update competency for %s/%s: %v", req.UserID, req.SkillID, err)

		if strings.Contains(err.Error(), "missing") || strings.Contains(err.Error(), "invalid") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update competency",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Competency updated successfully",
		"data": fiber.Map{
			"result": result,
		},
	})
}

func (h *CompetencyHandler) BatchUpdateCompetencies(c fiber.Ctx) error {
	var req models.BatchUpdateRequest

	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(req.Events) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Batch contains no events",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := h.competencyService.BatchUpdateCompetencies(ctx, &req)
	if err != nil {
		log.Printf("Failed to process competency batch of %d events: %v", len(req.Events), err)

		if strings.Contains(err.Error(), "exceeds limit") {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process competency batch",
		})
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Batch processed",
		"data": fiber.Map{
			"results":   results,
			"processed": len(results) - failed,
			"failed":    failed,
		},
	})
}

func (h *CompetencyHandler) GetCompetencyProfile(c fiber.Ctx) error {
	userID := c.Params("userID")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	profile, err := h.competencyService.GetCompetencyProfile(ctx, userID)
	if err != nil {
		log.Printf("Failed to get competency profile for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get competency profile",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Competency profile retrieved successfully",
		"data": fiber.Map{
			"profile": profile,
		},
	})
}

func (h *CompetencyHandler) GetPerformanceHistory(c fiber.Ctx) error {
	userID := c.Params("userID")
	skillID := c.Params("skillID")

	if userID == "" || skillID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID and Skill ID are required",
		})
	}

	limit, err := strconv.ParseInt(c.Query("limit", "100"), 10, 64)
	if err != nil || limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid limit",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := h.competencyService.GetPerformanceHistory(ctx, userID, skillID, limit)
	if err != nil {
		log.Printf("Failed to get performance history %s/%s: %v", userID, skillID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get performance history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Performance history retrieved successfully",
		"data": fiber.Map{
			"events": events,
			"count":  len(events),
		},
	})
}

func (h *CompetencyHandler) InvalidateUserCache(c fiber.Ctx) error {
	userID := c.Params("userID")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.competencyService.InvalidateUserCache(ctx, userID); err != nil {
		log.Printf("Failed to invalidate cache for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to invalidate cache",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Cache invalidated successfully",
	})
}

func (h *CompetencyHandler) GetSkillCompetency(c fiber.Ctx) error {
	userID := c.Params("userID")
	skillID := c.Params("skillID")

	if userID == "" || skillID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID and Skill ID are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	view, found, err := h.competencyService.GetSkillCompetency(ctx, userID, skillID)
	if err != nil {
		log.Printf("Failed to get competency %s/%s: %v", userID, skillID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get skill competency",
		})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No competency recorded for this skill",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Skill competency retrieved successfully",
		"data": fiber.Map{
			"competency": view,
		},
	})
}

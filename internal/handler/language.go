package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/media"
	"github.com/videotranslator/api/internal/model"
	"github.com/videotranslator/api/internal/service"
	"github.com/videotranslator/api/pkg/response"
)

type LanguageHandler struct {
	service *service.LanguageService
	maxSize int64
}

func NewLanguageHandler(svc *service.LanguageService, maxUploadSize int64) *LanguageHandler {
	return &LanguageHandler{
		service: svc,
		maxSize: maxUploadSize,
	}
}

// List handles GET /api/languages
func (h *LanguageHandler) List(c *fiber.Ctx) error {
	return response.OK(c, model.LanguagesResponse{
		Languages:             h.service.FetchLanguages(),
		DefaultSourceLanguage: controller.DefaultSourceLanguage,
		DefaultTargetLanguage: controller.DefaultTargetLanguage,
		AcceptedExtensions:    media.AcceptedExtensions,
		MaxUploadSize:         h.maxSize,
	})
}

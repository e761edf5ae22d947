package handler

import (
	"net/http"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/tier"
)

type InfoHandler struct {
	plans []tier.Definition
}

func NewInfoHandler(policy *tier.Policy) *InfoHandler {
	return &InfoHandler{plans: policy.Definitions()}
}

type InfoResponse struct {
	Name               string            `json:"name"`
	Version            string            `json:"version"`
	Description        string            `json:"description"`
	HealthCheck        string            `json:"health_check"`
	Endpoints          map[string]string `json:"endpoints"`
	SupportedPlatforms []model.Platform  `json:"supported_platforms"`
	Plans              []tier.Definition `json:"plans"`
}

var endpoints = map[string]string{
	"trends_global":    "/v1/trends/global",
	"trends_platform":  "/v1/trends/platform",
	"trends_country":   "/v1/trends/country",
	"keyword_analysis": "/v1/trends/analysis/keyword",
	"related_hashtags": "/v1/trends/hashtags/related",
	"register":         "/v1/auth/register",
	"usage_stats":      "/v1/auth/usage",
	"my_account":       "/v1/auth/my-account",
}

func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, InfoResponse{
		Name:               "Social Trends API",
		Version:            Version,
		Description:        "Aggregated TikTok and Instagram trends behind tiered API keys",
		HealthCheck:        "/health",
		Endpoints:          endpoints,
		SupportedPlatforms: []model.Platform{model.PlatformTikTok, model.PlatformInstagram},
		Plans:              h.plans,
	})
}

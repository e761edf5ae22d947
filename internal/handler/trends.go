package handler

import (
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/social-trends-api/internal/httputil"
	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/trends"
)

// TrendSource produces trend data. trends.Generator is the only
// implementation.
type TrendSource interface {
	Global(limit int) []model.TrendItem
	Platform(p model.Platform, limit int) []model.PlatformTrendItem
	Country(code string, limit int) []model.TrendItem
	Keyword(keyword string, hours int) model.KeywordAnalysis
	RelatedHashtags(hashtag string, limit int) []model.RelatedHashtag
}

// TrendsHandler serves /v1/trends. Authentication, metering and tier checks
// happen in middleware before any of these run.
type TrendsHandler struct {
	source TrendSource
	now    func() time.Time
}

func NewTrendsHandler(source TrendSource) *TrendsHandler {
	return &TrendsHandler{source: source, now: time.Now}
}

type globalTrendsResponse struct {
	LastUpdated time.Time         `json:"last_updated"`
	TotalTrends int               `json:"total_trends"`
	Trends      []model.TrendItem `json:"trends"`
}

type platformTrendsResponse struct {
	Platform    model.Platform            `json:"platform"`
	LastUpdated time.Time                 `json:"last_updated"`
	TotalTrends int                       `json:"total_trends"`
	Trends      []model.PlatformTrendItem `json:"trends"`
}

type countryTrendsResponse struct {
	Country     string            `json:"country"`
	LastUpdated time.Time         `json:"last_updated"`
	Trends      []model.TrendItem `json:"trends"`
}

type keywordAnalysisResponse struct {
	model.KeywordAnalysis
	AnalysisPeriodHours int `json:"analysis_period_hours"`
}

type relatedHashtagsResponse struct {
	Hashtag         string                 `json:"hashtag"`
	RelatedHashtags []model.RelatedHashtag `json:"related_hashtags"`
	LastUpdated     time.Time              `json:"last_updated"`
}

func (h *TrendsHandler) Global(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 10, 1, 100)
	if !ok {
		return
	}

	items := h.source.Global(limit)
	RespondJSON(w, http.StatusOK, globalTrendsResponse{
		LastUpdated: h.now().UTC(),
		TotalTrends: len(items),
		Trends:      items,
	})
}

func (h *TrendsHandler) Platform(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("source")
	if name == "" {
		name = q.Get("platform")
	}

	var p model.Platform
	switch model.Platform(strings.ToLower(name)) {
	case model.PlatformTikTok:
		p = model.PlatformTikTok
	case model.PlatformInstagram:
		p = model.PlatformInstagram
	case "":
		RespondError(w, http.StatusBadRequest, "invalid_request", "source is required (tiktok or instagram)")
		return
	default:
		RespondError(w, http.StatusBadRequest, "invalid_request", "source must be tiktok or instagram")
		return
	}

	limit, ok := queryInt(w, r, "limit", 20, 1, 50)
	if !ok {
		return
	}

	items := h.source.Platform(p, limit)
	RespondJSON(w, http.StatusOK, platformTrendsResponse{
		Platform:    p,
		LastUpdated: h.now().UTC(),
		TotalTrends: len(items),
		Trends:      items,
	})
}

func (h *TrendsHandler) Country(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if !isCountryCode(code) {
		RespondError(w, http.StatusBadRequest, "invalid_request", "code must be a two-letter ISO 3166-1 country code")
		return
	}

	limit, ok := queryInt(w, r, "limit", 10, 1, 50)
	if !ok {
		return
	}

	RespondJSON(w, http.StatusOK, countryTrendsResponse{
		Country:     code,
		LastUpdated: h.now().UTC(),
		Trends:      h.source.Country(code, limit),
	})
}

func (h *TrendsHandler) Keyword(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		RespondError(w, http.StatusBadRequest, "invalid_request", "keyword is required")
		return
	}
	if len(keyword) > 100 {
		RespondError(w, http.StatusBadRequest, "invalid_request", "keyword must be at most 100 characters")
		return
	}

	hours, ok := queryInt(w, r, "hours", 24, 1, 168)
	if !ok {
		return
	}

	RespondJSON(w, http.StatusOK, keywordAnalysisResponse{
		KeywordAnalysis:     h.source.Keyword(keyword, hours),
		AnalysisPeriodHours: hours,
	})
}

func (h *TrendsHandler) RelatedHashtags(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("hashtag")
	hashtag := trends.NormalizeHashtag(raw)
	if hashtag == "#" {
		RespondError(w, http.StatusBadRequest, "invalid_request", "hashtag is required")
		return
	}

	limit, ok := queryInt(w, r, "limit", 10, 1, 30)
	if !ok {
		return
	}

	RespondJSON(w, http.StatusOK, relatedHashtagsResponse{
		Hashtag:         hashtag,
		RelatedHashtags: h.source.RelatedHashtags(hashtag, limit),
		LastUpdated:     h.now().UTC(),
	})
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min, max int) (int, bool) {
	n, err := httputil.ParseBoundedInt(name, r.URL.Query().Get(name), def, min, max)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return 0, false
	}
	return n, true
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range s {
		if c > unicode.MaxASCII || !unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

package model

type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

type TrendItem struct {
	Rank             int        `json:"rank"`
	Name             string     `json:"name"`
	Volume           int64      `json:"volume"`
	GrowthPercentage float64    `json:"growth_percentage"`
	Platforms        []Platform `json:"platforms"`
}

type PlatformTrendItem struct {
	Rank     int                    `json:"rank"`
	Name     string                 `json:"name"`
	Volume   int64                  `json:"volume"`
	Metadata map[string]interface{} `json:"metadata"`
}

type KeywordAnalysis struct {
	Keyword       string             `json:"keyword"`
	TotalMentions int64              `json:"total_mentions"`
	Platforms     map[Platform]int64 `json:"platforms"`
	SentimentAvg  float64            `json:"sentiment_avg"`
	Timeline      []TimelinePoint    `json:"timeline"`
}

type TimelinePoint struct {
	Hour     string `json:"hour"`
	Mentions int64  `json:"mentions"`
}

type RelatedHashtag struct {
	Hashtag       string  `json:"hashtag"`
	RelationScore float64 `json:"relation_score"`
	Volume        int64   `json:"volume"`
}

// Package trends produces the simulated trend data served by the /v1/trends
// endpoints. Volumes are randomized around fixed baselines on every call.
package trends

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/social-trends-api/internal/model"
)

type baseline struct {
	name   string
	volume int64
}

var (
	tiktokBaselines = []baseline{
		{"#fyp", 1_200_000}, {"#viral", 950_000}, {"#dance", 800_000}, {"#comedy", 750_000},
		{"#music", 700_000}, {"#trend", 650_000}, {"#funny", 600_000},
		{"#tiktokmademebuyit", 550_000}, {"#duet", 500_000}, {"#food", 450_000},
	}
	instagramBaselines = []baseline{
		{"#instagood", 1_100_000}, {"#photooftheday", 900_000}, {"#fashion", 850_000},
		{"#beautiful", 800_000}, {"#art", 750_000}, {"#photography", 700_000},
		{"#nature", 650_000}, {"#travel", 600_000}, {"#fitness", 550_000}, {"#food", 500_000},
	}

	// Share of US volume seen in each country. Unlisted countries get
	// defaultCountryShare.
	countryShare = map[string]float64{
		"US": 1.0, "GB": 0.35, "CA": 0.12, "AU": 0.08, "IT": 0.20, "FR": 0.25,
		"DE": 0.28, "ES": 0.18, "NL": 0.06, "SE": 0.04, "BR": 0.15, "MX": 0.10,
		"JP": 0.30, "KR": 0.15, "IN": 0.45, "SG": 0.03,
	}

	relatedSuffixes = []string{"challenge", "tips", "daily", "love", "life", "trend", "2026", "vibes", "style", "community"}
)

const defaultCountryShare = 0.05

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns a Generator seeded from the runtime's random source.
func New() *Generator {
	return NewSeeded(rand.Uint64(), rand.Uint64())
}

// NewSeeded returns a Generator with a reproducible sequence.
func NewSeeded(seed1, seed2 uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed1, seed2)),
		now: time.Now,
	}
}

func (g *Generator) intRange(lo, hi int64) int64 {
	return lo + g.rng.Int64N(hi-lo+1)
}

func (g *Generator) floatRange(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

type platformTrend struct {
	name     string
	volume   int64
	growth   float64
	metadata map[string]any
}

func (g *Generator) simulate(p model.Platform) []platformTrend {
	out := make([]platformTrend, 0, len(tiktokBaselines))
	switch p {
	case model.PlatformTikTok:
		for _, b := range tiktokBaselines {
			out = append(out, platformTrend{
				name:   b.name,
				volume: int64(float64(b.volume) * g.floatRange(0.8, 1.3)),
				growth: round(g.floatRange(-15, 45), 1),
				metadata: map[string]any{
					"videos_count":    g.intRange(1_000_000, 8_000_000),
					"engagement_rate": round(g.floatRange(5.5, 14.2), 1),
					"hashtag_views":   g.intRange(50_000_000, 800_000_000),
				},
			})
		}
	case model.PlatformInstagram:
		for _, b := range instagramBaselines {
			out = append(out, platformTrend{
				name:   b.name,
				volume: int64(float64(b.volume) * g.floatRange(0.85, 1.25)),
				growth: round(g.floatRange(-10, 30), 1),
				metadata: map[string]any{
					"posts_count":  g.intRange(2_000_000, 12_000_000),
					"avg_likes":    g.intRange(8_000, 35_000),
					"avg_comments": g.intRange(300, 2_000),
				},
			})
		}
	}
	return out
}

// Platform returns up to limit trends for one platform, ranked by baseline.
func (g *Generator) Platform(p model.Platform, limit int) []model.PlatformTrendItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	trends := g.simulate(p)
	items := make([]model.PlatformTrendItem, 0, min(limit, len(trends)))
	for i, t := range trends {
		if i == limit {
			break
		}
		t.metadata["growth_24h"] = t.growth
		items = append(items, model.PlatformTrendItem{
			Rank:     i + 1,
			Name:     t.name,
			Volume:   t.volume,
			Metadata: t.metadata,
		})
	}
	return items
}

// Global merges both platforms. A hashtag trending on both has its volumes
// summed and its growth averaged.
func (g *Generator) Global(limit int) []model.TrendItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global(limit)
}

func (g *Generator) global(limit int) []model.TrendItem {
	var merged []model.TrendItem
	index := make(map[string]int)
	for _, p := range []model.Platform{model.PlatformTikTok, model.PlatformInstagram} {
		for _, t := range g.simulate(p) {
			if i, ok := index[t.name]; ok {
				merged[i].Volume += t.volume
				merged[i].Platforms = append(merged[i].Platforms, p)
				merged[i].GrowthPercentage = (merged[i].GrowthPercentage + t.growth) / 2
				continue
			}
			index[t.name] = len(merged)
			merged = append(merged, model.TrendItem{
				Name:             t.name,
				Volume:           t.volume,
				GrowthPercentage: t.growth,
				Platforms:        []model.Platform{p},
			})
		}
	}

	slices.SortStableFunc(merged, func(a, b model.TrendItem) int {
		return cmp.Compare(b.Volume, a.Volume)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	for i := range merged {
		merged[i].Rank = i + 1
		merged[i].GrowthPercentage = round(merged[i].GrowthPercentage, 1)
	}
	return merged
}

// Country scales the global trends by the country's share of US volume.
// code must be an ISO 3166-1 alpha-2 code; it is matched case-insensitively.
func (g *Generator) Country(code string, limit int) []model.TrendItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	share, ok := countryShare[strings.ToUpper(code)]
	if !ok {
		share = defaultCountryShare
	}
	items := g.global(limit)
	for i := range items {
		items[i].Volume = int64(float64(items[i].Volume) * share)
	}
	return items
}

// Keyword simulates mention counts for keyword over the last hours hours,
// with one timeline point per hour, oldest first.
func (g *Generator) Keyword(keyword string, hours int) model.KeywordAnalysis {
	g.mu.Lock()
	defer g.mu.Unlock()

	end := g.now().UTC().Truncate(time.Hour)
	timeline := make([]model.TimelinePoint, 0, hours)
	var total int64
	for h := hours - 1; h >= 0; h-- {
		mentions := g.intRange(50, 5_000)
		total += mentions
		timeline = append(timeline, model.TimelinePoint{
			Hour:     end.Add(-time.Duration(h) * time.Hour).Format(time.RFC3339),
			Mentions: mentions,
		})
	}

	tiktok := int64(float64(total) * g.floatRange(0.4, 0.7))
	return model.KeywordAnalysis{
		Keyword:       keyword,
		TotalMentions: total,
		Platforms: map[model.Platform]int64{
			model.PlatformTikTok:    tiktok,
			model.PlatformInstagram: total - tiktok,
		},
		SentimentAvg: round(g.floatRange(0.3, 0.9), 2),
		Timeline:     timeline,
	}
}

// RelatedHashtags returns up to limit hashtags related to hashtag, strongest
// relation first. The leading '#' on hashtag is optional.
func (g *Generator) RelatedHashtags(hashtag string, limit int) []model.RelatedHashtag {
	g.mu.Lock()
	defer g.mu.Unlock()

	base := strings.ToLower(NormalizeHashtag(hashtag)[1:])
	related := make([]model.RelatedHashtag, 0, len(relatedSuffixes))
	for _, suffix := range relatedSuffixes {
		related = append(related, model.RelatedHashtag{
			Hashtag:       "#" + base + suffix,
			RelationScore: round(g.floatRange(0.1, 1.0), 2),
			Volume:        g.intRange(10_000, 900_000),
		})
	}
	slices.SortStableFunc(related, func(a, b model.RelatedHashtag) int {
		return cmp.Or(cmp.Compare(b.RelationScore, a.RelationScore), cmp.Compare(b.Volume, a.Volume))
	})
	if len(related) > limit {
		related = related[:limit]
	}
	return related
}

// NormalizeHashtag returns hashtag with exactly one leading '#'.
func NormalizeHashtag(hashtag string) string {
	return "#" + strings.TrimLeft(strings.TrimSpace(hashtag), "#")
}

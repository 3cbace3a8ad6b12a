package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"ideaflow/pkg/logger"
)

// PipelineCollector reports pipeline occupancy straight from Postgres on every scrape
type PipelineCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB

	ideasByStage     *prometheus.Desc
	trashedIdeas     *prometheus.Desc
	activeProposals  *prometheus.Desc
	activePairTrades *prometheus.Desc
}

// NewPipelineCollector creates the collector
func NewPipelineCollector(postgres *sqlx.DB) *PipelineCollector {
	return &PipelineCollector{
		log:      logger.Get().With("component", "pipeline_collector"),
		postgres: postgres,

		ideasByStage: prometheus.NewDesc(
			"ideaflow_ideas",
			"Active trade ideas by stored stage",
			[]string{"stage"}, nil,
		),
		trashedIdeas: prometheus.NewDesc(
			"ideaflow_ideas_trashed",
			"Trade ideas in the trash",
			nil, nil,
		),
		activeProposals: prometheus.NewDesc(
			"ideaflow_proposals_active",
			"Active sizing proposals",
			nil, nil,
		),
		activePairTrades: prometheus.NewDesc(
			"ideaflow_pair_trades_active",
			"Pair trades that have not been dissolved",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *PipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ideasByStage
	ch <- c.trashedIdeas
	ch <- c.activeProposals
	ch <- c.activePairTrades
}

// Collect implements prometheus.Collector
func (c *PipelineCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectStages(ctx, ch)
	c.collectCount(ctx, ch, c.trashedIdeas, `SELECT COUNT(*) FROM trade_ideas WHERE visibility_tier = 'trashed'`)
	c.collectCount(ctx, ch, c.activeProposals, `SELECT COUNT(*) FROM proposals WHERE is_active`)
	c.collectCount(ctx, ch, c.activePairTrades, `SELECT COUNT(*) FROM pair_trades WHERE visibility_tier = 'active'`)
}

func (c *PipelineCollector) collectStages(ctx context.Context, ch chan<- prometheus.Metric) {
	var stats []struct {
		Stage string `db:"stage"`
		Count int    `db:"count"`
	}
	err := c.postgres.SelectContext(ctx, &stats, `
		SELECT stage, COUNT(*) AS count
		FROM trade_ideas
		WHERE visibility_tier = 'active'
		GROUP BY stage`)
	if err != nil {
		c.log.Errorw("Failed to collect stage counts", "error", err)
		return
	}
	for _, s := range stats {
		ch <- prometheus.MustNewConstMetric(c.ideasByStage, prometheus.GaugeValue, float64(s.Count), s.Stage)
	}
}

func (c *PipelineCollector) collectCount(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	var count int
	if err := c.postgres.GetContext(ctx, &count, query); err != nil {
		c.log.Errorw("Failed to collect metric", "metric", desc.String(), "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(count))
}

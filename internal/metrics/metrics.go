package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twentyq_model_calls_total",
			Help: "Model calls by response family and outcome (ok, invalid, error)",
		},
		[]string{"family", "outcome"},
	)
	RoundFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twentyq_round_failures_total",
			Help: "Rounds that exhausted their retries",
		},
		[]string{"family"},
	)
	Rounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twentyq_rounds_total",
			Help: "Completed rounds by game type and reply kind",
		},
		[]string{"game_type", "kind"},
	)
	GamesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twentyq_games_finished_total",
			Help: "Sessions that reached a terminal status",
		},
		[]string{"game_type", "status"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twentyq_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(ModelCalls)
	prometheus.MustRegister(RoundFailures)
	prometheus.MustRegister(Rounds)
	prometheus.MustRegister(GamesFinished)
	prometheus.MustRegister(RateLimited)
}

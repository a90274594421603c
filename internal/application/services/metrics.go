package services

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeVerified    = "verified"
	outcomeInvalid     = "invalid"
	outcomeExpired     = "expired"
	outcomeAlreadyUsed = "already_used"
)

var (
	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_tokens_issued_total",
			Help: "The total number of verification tokens issued, by purpose",
		},
		[]string{"purpose"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_verifications_total",
			Help: "The total number of verification attempts, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(tokensIssuedTotal)
	prometheus.MustRegister(verificationsTotal)
}

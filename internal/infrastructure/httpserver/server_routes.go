package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	verification := api.Group("/verification")
	// Per-IP limit guards the issuance entry point only; verification is
	// self-limiting through exactly-once consumption.
	verification.POST("/request", s.requestVerification, s.middleware.RateLimit.Handler())
	verification.POST("/verify", s.verifyToken)
	verification.GET("/verify", s.verifyToken)
}

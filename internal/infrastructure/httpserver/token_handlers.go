package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/verimail/verification-service/internal/core/domain/token"
)

// Verification handlers

// verifyFailureResponse is the failure body of the verification contract.
type verifyFailureResponse struct {
	Verified  bool   `json:"verified"`
	ErrorCode string `json:"error_code"`
}

func (s *Server) requestVerification(c echo.Context) error {
	var req token.IssueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.tokenService.Issue(c.Request().Context(), &req, c.RealIP())
	if err != nil {
		var ve *token.ValidationError
		var rle *token.RateLimitError
		switch {
		case errors.As(err, &ve):
			return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
		case errors.As(err, &rle):
			c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", int(rle.RetryAfter.Seconds())))
			return c.JSON(http.StatusTooManyRequests, verifyFailureResponse{ErrorCode: token.ErrorCode(err)})
		case errors.Is(err, token.ErrIssuanceConflict):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "issuance temporarily unavailable, retry")
		default:
			return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to issue verification token")
		}
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) verifyToken(c echo.Context) error {
	var req token.VerifyRequest
	if c.Request().Method == http.MethodGet {
		req.Token = c.QueryParam("token")
	} else if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, verifyFailureResponse{ErrorCode: token.CodeInvalidToken})
	}

	result, err := s.tokenService.Verify(c.Request().Context(), req.Token)
	if err != nil {
		var status int
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			status = http.StatusGone
		case errors.Is(err, token.ErrTokenAlreadyUsed):
			status = http.StatusConflict
		case errors.Is(err, token.ErrInvalidToken):
			status = http.StatusBadRequest
		default:
			// storage failures are not verification outcomes
			return echo.NewHTTPError(http.StatusServiceUnavailable, "verification temporarily unavailable")
		}
		return c.JSON(status, verifyFailureResponse{ErrorCode: token.ErrorCode(err)})
	}

	return c.JSON(http.StatusOK, result)
}

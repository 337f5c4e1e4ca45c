//go:build integration_test || all_tests

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/fitcoach/internal/accounts"
	"github.com/2beens/fitcoach/internal/coach/predictor"
	"github.com/2beens/fitcoach/internal/coach/progress"
)

func (s *IntegrationTestSuite) do(ctx context.Context, method, path, token string, body any) (int, []byte) {
	t := s.T()

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, respBytes
}

func (s *IntegrationTestSuite) signupAndLogin(ctx context.Context, t *testing.T) string {
	email := gofakeit.Email()
	password := gofakeit.Password(true, true, true, false, false, 14)

	code, body := s.do(ctx, http.MethodPost, "/signup", "", accounts.SignupRequest{
		Name:     gofakeit.Name(),
		Email:    email,
		Password: password,
	})
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = s.do(ctx, http.MethodPost, "/login", "", accounts.LoginRequest{
		Email:    email,
		Password: password,
	})
	require.Equal(t, http.StatusOK, code, string(body))

	var loginResp accounts.AccountResponse
	require.NoError(t, json.Unmarshal(body, &loginResp))
	require.NotEmpty(t, loginResp.Token)
	assert.Equal(t, email, loginResp.User.Email)

	return loginResp.Token
}

func (s *IntegrationTestSuite) TestRoot() {
	code, body := s.do(context.Background(), http.MethodGet, "/", "", nil)
	s.Equal(http.StatusOK, code)
	s.JSONEq(`{"message":"Backend running successfully"}`, string(body))
}

func (s *IntegrationTestSuite) TestSignupTwice() {
	ctx := context.Background()
	req := accounts.SignupRequest{
		Name:     gofakeit.Name(),
		Email:    gofakeit.Email(),
		Password: "secret-pass",
	}

	code, _ := s.do(ctx, http.MethodPost, "/signup", "", req)
	s.Equal(http.StatusOK, code)

	code, body := s.do(ctx, http.MethodPost, "/signup", "", req)
	s.Equal(http.StatusBadRequest, code)
	s.JSONEq(`{"error":"User already exists"}`, string(body))

	code, _ = s.do(ctx, http.MethodPost, "/login", "", accounts.LoginRequest{Email: req.Email, Password: "wrong"})
	s.Equal(http.StatusUnauthorized, code)
}

func (s *IntegrationTestSuite) TestFeedbackAndStatus() {
	t := s.T()
	ctx := context.Background()
	token := s.signupAndLogin(ctx, t)
	userID := gofakeit.UUID()

	code, _ := s.do(ctx, http.MethodGet, "/status/"+userID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(ctx, http.MethodGet, "/status/"+userID, token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"User not found"}`, string(body))

	for i := 0; i < 3; i++ {
		code, body = s.do(ctx, http.MethodPost, "/feedback", token, progress.FeedbackRequest{
			UserID:    userID,
			Completed: true,
			Energy:    "high",
		})
		require.Equal(t, http.StatusOK, code, string(body))
	}
	code, _ = s.do(ctx, http.MethodPost, "/feedback", token, progress.FeedbackRequest{
		UserID:    userID,
		Completed: false,
		Energy:    "medium",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(ctx, http.MethodGet, "/status/"+userID, token, nil)
	require.Equal(t, http.StatusOK, code)

	var status progress.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, progress.Status{
		UserID:         userID,
		CurrentStreak:  0,
		TotalCompleted: 3,
		AverageEnergy:  8.3,
		PlanIntensity:  predictor.IntensityLight,
	}, status)

	// the row is really in postgres
	var energySum, energyCount, longestStreak int
	require.NoError(t, s.DB.QueryRow(
		"SELECT energy_sum, energy_count, longest_streak FROM coach_progress WHERE user_id = $1", userID,
	).Scan(&energySum, &energyCount, &longestStreak))
	assert.Equal(t, 33, energySum)
	assert.Equal(t, 4, energyCount)
	assert.Equal(t, 3, longestStreak)

	code, body = s.do(ctx, http.MethodGet, "/progress_data/"+userID, token, nil)
	require.Equal(t, http.StatusOK, code)
	var overview progress.Overview
	require.NoError(t, json.Unmarshal(body, &overview))
	assert.Equal(t, 4, overview.TotalCheckins)
	assert.Equal(t, 0.75, overview.WeeklyCompletionRate)

	code, _ = s.do(ctx, http.MethodGet, "/logout", token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(ctx, http.MethodGet, "/status/"+userID, token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func (s *IntegrationTestSuite) TestPredictIsPublic() {
	code, body := s.do(context.Background(), http.MethodPost, "/predict_completion", "", map[string]any{
		"energy_level":  4,
		"missed_days":   3,
		"goal_progress": 0.5,
		"availability":  1,
	})
	s.Require().Equal(http.StatusOK, code)

	var result predictor.Result
	s.Require().NoError(json.Unmarshal(body, &result))
	s.Equal(predictor.IntensityRest, result.Prediction)
	s.Equal(predictor.RiskHigh, result.RiskLevel)
	s.Equal(0.6, result.Confidence)
}

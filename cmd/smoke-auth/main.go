package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// smoke-auth runs login and identity lookup against a live API.
func main() {
	baseURL := envOr("CLASSDESK_API_URL", "http://localhost:8080")
	email := os.Getenv("SMOKE_EMAIL")
	password := os.Getenv("SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("SMOKE_EMAIL and SMOKE_PASSWORD are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}

	if err := expectStatus(ctx, client, http.MethodGet, baseURL+"/v1/me", "", nil, http.StatusUnauthorized); err != nil {
		log.Fatalf("gate check: %v", err)
	}

	var login struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
	}
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	if err := call(ctx, client, http.MethodPost, baseURL+"/v1/auth/login", "", body, &login); err != nil {
		log.Fatalf("login: %v", err)
	}

	var me struct {
		UserID int64  `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := call(ctx, client, http.MethodGet, baseURL+"/v1/me", login.AccessToken, nil, &me); err != nil {
		log.Fatalf("me: %v", err)
	}
	if me.UserID != login.UserID || me.Email != email {
		log.Fatalf("identity mismatch: login user %d, me %+v", login.UserID, me)
	}

	if addr := os.Getenv("CLASSDESK_GRPC_ADDR"); addr != "" {
		if err := grpcSmoke(ctx, addr); err != nil {
			log.Fatalf("grpc: %v", err)
		}
	}

	fmt.Printf("auth smoke test passed: user_id=%d\n", me.UserID)
}

func grpcSmoke(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health status %s", resp.GetStatus())
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	stream, err := hc.Watch(wctx, &healthpb.HealthCheckRequest{})
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.Unauthenticated {
		return fmt.Errorf("watch without token: expected Unauthenticated, got %v", err)
	}
	return nil
}

func call(ctx context.Context, client *http.Client, method, url, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func expectStatus(ctx context.Context, client *http.Client, method, url, token string, body []byte, want int) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d, want %d", method, url, resp.StatusCode, want)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

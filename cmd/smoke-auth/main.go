package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// End-to-end smoke against a running gatehouse-api: login, an authorization
// check, a refresh rotation, then reuse of the consumed refresh token, which
// must be rejected.
func main() {
	base := os.Getenv("GATEHOUSE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	email := os.Getenv("GATEHOUSE_SMOKE_EMAIL")
	password := os.Getenv("GATEHOUSE_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("GATEHOUSE_SMOKE_EMAIL and GATEHOUSE_SMOKE_PASSWORD are required")
	}
	action := os.Getenv("GATEHOUSE_SMOKE_ACTION")
	if action == "" {
		action = "resource:read"
	}
	resource := os.Getenv("GATEHOUSE_SMOKE_RESOURCE")
	if resource == "" {
		resource = "res-reports"
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var session struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status := post(client, base+"/v1/auth/login", "",
		map[string]string{"email": email, "password": password}, &session)
	if status != http.StatusOK {
		log.Fatalf("login: unexpected status %d", status)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		log.Fatal("login: empty session tokens")
	}

	var decision struct {
		Decision string `json:"decision"`
	}
	status = post(client, base+"/v1/authz/check", session.AccessToken,
		map[string]string{"action": action, "resource": resource}, &decision)
	if status != http.StatusOK && status != http.StatusForbidden {
		log.Fatalf("authz check: unexpected status %d", status)
	}
	log.Printf("authz check: %s on %s -> %s", action, resource, decision.Decision)

	var rotated struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status = post(client, base+"/v1/auth/refresh", "",
		map[string]string{"refresh_token": session.RefreshToken}, &rotated)
	if status != http.StatusOK {
		log.Fatalf("refresh: unexpected status %d", status)
	}
	if rotated.RefreshToken == session.RefreshToken {
		log.Fatal("refresh: credential was not rotated")
	}

	// The consumed token must be refused, and its reuse must burn the chain.
	status = post(client, base+"/v1/auth/refresh", "",
		map[string]string{"refresh_token": session.RefreshToken}, &struct{}{})
	if status != http.StatusUnauthorized {
		log.Fatalf("replayed refresh: expected 401, got %d", status)
	}
	status = post(client, base+"/v1/auth/refresh", "",
		map[string]string{"refresh_token": rotated.RefreshToken}, &struct{}{})
	if status != http.StatusUnauthorized {
		log.Fatalf("post-replay refresh: expected chain revocation 401, got %d", status)
	}

	fmt.Println("gatehouse smoke test passed")
}

func post(client *http.Client, url, token string, payload any, out any) int {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s: %v", url, err)
	}
	defer resp.Body.Close()
	_ = json.NewDecoder(resp.Body).Decode(out)
	return resp.StatusCode
}

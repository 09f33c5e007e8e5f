package dexscreener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_TokenPairs(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"chainId":"base","pairAddress":"0xpair1","baseToken":{"address":"0xaaa","symbol":"WETH"},"priceUsd":"3001.5"},
			{"chainId":"base","pairAddress":"0xpair2","baseToken":{"address":"0xbbb","symbol":"USDC"},"priceUsd":"1.0001"}
		]`)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)

	pairs, err := client.TokenPairs(context.Background(), "base", []string{"0xaaa", "0xbbb"})
	if err != nil {
		t.Fatalf("TokenPairs: %v", err)
	}

	if gotPath != "/tokens/v1/base/0xaaa,0xbbb" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].BaseToken.Symbol != "WETH" || pairs[0].PriceUsd != "3001.5" {
		t.Errorf("unexpected first pair: %+v", pairs[0])
	}
}

func TestClient_TokenPairsChunksLongLists(t *testing.T) {
	var calls int
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		parts := strings.Split(r.URL.Path, "/")
		sizes = append(sizes, len(strings.Split(parts[len(parts)-1], ",")))
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)

	addresses := make([]string, 45)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("0x%040d", i)
	}

	if _, err := client.TokenPairs(context.Background(), "base", addresses); err != nil {
		t.Fatalf("TokenPairs: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 chunked calls, got %d", calls)
	}
	if sizes[0] != 30 || sizes[1] != 15 {
		t.Errorf("unexpected chunk sizes %v", sizes)
	}
}

func TestClient_TokenPairsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)

	_, err := client.TokenPairs(context.Background(), "base", []string{"0xaaa"})
	if err == nil {
		t.Fatal("expected error on non-200 status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestClient_TokenPairsEmptyList(t *testing.T) {
	client := New("http://unreachable.invalid", time.Second)

	pairs, err := client.TokenPairs(context.Background(), "base", nil)
	if err != nil || pairs != nil {
		t.Fatalf("empty watchlist must be a no-op, got %v, %v", pairs, err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.TokenPairs(ctx, "base", []string{"0xaaa"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

package api

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := &CircuitBreaker{name: "test", threshold: 3, openFor: 50 * time.Millisecond}

	for i := 0; i < 2; i++ {
		b.ReportFailure()
		if !b.Allow() {
			t.Fatalf("breaker tripped early after %d failures", i+1)
		}
	}
	b.ReportFailure()
	if b.Allow() {
		t.Fatal("breaker should be open after threshold failures")
	}

	time.Sleep(60 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should close after the open window")
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	b := &CircuitBreaker{name: "test", threshold: 2, openFor: time.Minute}

	b.ReportFailure()
	b.ReportSuccess()
	b.ReportFailure()
	if !b.Allow() {
		t.Fatal("success should have reset the failure count")
	}
}

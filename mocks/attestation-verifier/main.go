// A development stand-in for the external identity proof verifier. It judges
// attestations by markers embedded in the blob so end-to-end tests can drive
// every refusal path deterministically:
//
//	"minor"    the holder fails the age requirement
//	"expired"  the identity document is invalid
//	"reject"   the proof itself does not verify
//	"mismatch" the verifier asserts a different nullifier than claimed
//
// Anything else is approved, with the claimed nullifier echoed back.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	contracts "conubium/contracts/registry"
)

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", handleVerify(logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logger.Info("attestation verifier mock listening", "addr", *addr)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func handleVerify(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contracts.VerifyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		resp := judge(req)
		logger.Info("attestation judged",
			"valid", resp.Valid,
			"age_over_18", resp.AgeOver18,
			"document_valid", resp.DocumentValid,
			"reason", resp.Reason,
		)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("encode response failed", "error", err)
		}
	}
}

func judge(req contracts.VerifyRequest) contracts.VerifyResponse {
	if len(req.Attestation) == 0 {
		return contracts.VerifyResponse{Reason: "attestation is empty"}
	}

	resp := contracts.VerifyResponse{
		Valid:         true,
		AgeOver18:     true,
		DocumentValid: true,
		Nullifier:     req.Nullifier,
	}
	switch {
	case bytes.Contains(req.Attestation, []byte("reject")):
		return contracts.VerifyResponse{Reason: "proof verification failed"}
	case bytes.Contains(req.Attestation, []byte("minor")):
		resp.Valid = true
		resp.AgeOver18 = false
	case bytes.Contains(req.Attestation, []byte("expired")):
		resp.Valid = true
		resp.DocumentValid = false
	case bytes.Contains(req.Attestation, []byte("mismatch")):
		resp.Nullifier = "0xabab00000000000000000000000000000000000000000000000000000000abab"
	}
	return resp
}

package certs

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	info, err := Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cert, err := x509.ParseCertificate(info.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if cert.Subject.CommonName != "lumakey" {
		t.Errorf("common name: got %q, want lumakey", cert.Subject.CommonName)
	}
	if len(info.FingerprintBase64()) == 0 {
		t.Error("empty fingerprint")
	}
	if got := info.TLSConfig(); len(got.Certificates) != 1 {
		t.Errorf("TLSConfig certificates: got %d, want 1", len(got.Certificates))
	}
}

func TestGenerateValidityBounds(t *testing.T) {
	t.Parallel()

	info, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if remaining := time.Until(info.NotAfter); remaining > defaultValidity+time.Hour {
		t.Errorf("default validity too long: %v", remaining)
	}

	info, err = Generate(10 * 365 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if remaining := time.Until(info.NotAfter); remaining > maxValidity+time.Hour {
		t.Errorf("validity not capped: %v", remaining)
	}
}

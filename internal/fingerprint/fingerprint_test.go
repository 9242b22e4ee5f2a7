package fingerprint

import (
	"testing"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

func TestCompute_Deterministic(t *testing.T) {
	rc := types.RequestContext{
		IP:             "203.0.113.10",
		UserAgent:      "Mozilla/5.0",
		AcceptLanguage: "es-AR,es;q=0.9",
		AcceptEncoding: "gzip, br",
	}
	if Compute(rc) != Compute(rc) {
		t.Fatalf("mismo contexto produjo fingerprints distintos")
	}
}

func TestCompute_StableWithinNetworkBlock(t *testing.T) {
	a := types.RequestContext{IP: "203.0.113.10", UserAgent: "UA", AcceptLanguage: "es", AcceptEncoding: "gzip"}
	b := a
	b.IP = "203.0.113.200" // misma /24

	if Compute(a) != Compute(b) {
		t.Fatalf("cambio de IP dentro del bloque alteró el fingerprint")
	}

	c := a
	c.IP = "198.51.100.10" // otra red
	if Compute(a) == Compute(c) {
		t.Fatalf("redes distintas produjeron el mismo fingerprint")
	}

	d := a
	d.UserAgent = "otro UA"
	if Compute(a) == Compute(d) {
		t.Fatalf("user-agent distinto produjo el mismo fingerprint")
	}
}

func TestNetworkBlock(t *testing.T) {
	cases := []struct{ in, want string }{
		{"203.0.113.77", "203.0.113.0"},
		{"203.0.113.1", "203.0.113.0"},
		{"2001:db8:abcd:12::1", "2001:db8:abcd::"},
		{"no-es-ip", "no-es-ip"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NetworkBlock(c.in); got != c.want {
			t.Fatalf("NetworkBlock(%q) = %q, quería %q", c.in, got, c.want)
		}
	}
}

func TestSameBlock(t *testing.T) {
	if !SameBlock("203.0.113.1", "203.0.113.254") {
		t.Fatalf("misma /24 reportada como distinta")
	}
	if SameBlock("203.0.113.1", "203.0.114.1") {
		t.Fatalf("/24 distintas reportadas como iguales")
	}
}

package password

import (
	"strings"
	"testing"
)

// params livianos para que la suite no pague el costo de Default
var testParams = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerify_RoundTrip(t *testing.T) {
	phc, err := Hash(testParams, "F3K9-Q2MX")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$") {
		t.Fatalf("formato PHC inesperado: %q", phc)
	}
	if !Verify("F3K9-Q2MX", phc) {
		t.Fatalf("Verify rechazó el plain correcto")
	}
	if Verify("F3K9-Q2MY", phc) {
		t.Fatalf("Verify aceptó un plain incorrecto")
	}
}

func TestHash_DistinctSalts(t *testing.T) {
	a, err := Hash(testParams, "mismo-code")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := Hash(testParams, "mismo-code")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("dos hashes del mismo plain no deberían coincidir (salt)")
	}
}

func TestHash_RejectsEmpty(t *testing.T) {
	if _, err := Hash(testParams, ""); err == nil {
		t.Fatalf("Hash aceptó input vacío")
	}
}

func TestVerify_MalformedPHC(t *testing.T) {
	cases := []string{
		"",
		"$argon2id$v=19$m=8192,t=1,p=1$salt", // faltan partes
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$ZGs",  // variante incorrecta
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$ZGs", // versión incorrecta
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$ZGs",    // params inválidos
		"$argon2id$v=19$m=8192,t=1,p=1$!!$ZGs",     // salt no base64
	}
	for _, phc := range cases {
		if Verify("whatever", phc) {
			t.Fatalf("Verify aceptó PHC malformado: %q", phc)
		}
	}
}

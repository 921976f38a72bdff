package dkim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	kp, err := GenerateKey("example.com", "drip")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if kp.Domain != "example.com" || kp.Selector != "drip" {
		t.Errorf("identity = %s/%s, want example.com/drip", kp.Domain, kp.Selector)
	}
	if got := kp.PrivateKey.N.BitLen(); got < keyBits {
		t.Errorf("key size = %d bits, want >= %d", got, keyBits)
	}
}

func TestDNSIdentity(t *testing.T) {
	kp, err := GenerateKey("example.com", "mail")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := kp.DNSName(), "mail._domainkey.example.com"; got != want {
		t.Errorf("DNSName() = %q, want %q", got, want)
	}
	record := kp.DNSRecord()
	if !strings.HasPrefix(record, "v=DKIM1; k=rsa; p=") {
		t.Errorf("DNSRecord() = %q, want v=DKIM1 prefix", record)
	}
	if len(record) < 50 {
		t.Errorf("DNSRecord() suspiciously short: %d chars", len(record))
	}
}

func TestSaveAndLoadPrivateKey(t *testing.T) {
	kp, err := GenerateKey("example.com", "drip")
	if err != nil {
		t.Fatal(err)
	}

	keyPath := filepath.Join(t.TempDir(), "keys", "example.com.key")
	if err := kp.SavePrivateKey(keyPath); err != nil {
		t.Fatalf("SavePrivateKey: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadPrivateKey(keyPath)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if loaded.N.Cmp(kp.PrivateKey.N) != 0 {
		t.Error("loaded key does not match the generated key")
	}
}

func TestLoadPrivateKeyErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadPrivateKey("/nonexistent/key.pem"); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("not pem", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		if err := os.WriteFile(bad, []byte("not a pem"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPrivateKey(bad); err == nil {
			t.Error("expected error for non-PEM content")
		}
	})
}

package netsafe

import "testing"

func TestCheckURL_AllowsLocalhost(t *testing.T) {
	if err := CheckURL("http://localhost:8080/path"); err != nil {
		t.Errorf("localhost should be allowed: %v", err)
	}
}

func TestCheckURL_AllowsPublicHostname(t *testing.T) {
	if err := CheckURL("https://app.example/path"); err != nil {
		t.Errorf("public hostname should be allowed: %v", err)
	}
}

func TestCheckURL_RejectsLoopbackIP(t *testing.T) {
	tests := []string{
		"http://127.0.0.1/",
		"http://0.0.0.0/",
		"http://[::1]/",
	}
	for _, u := range tests {
		if err := CheckURL(u); err == nil {
			t.Errorf("CheckURL(%q) = nil, want error", u)
		}
	}
}

func TestCheckURL_RejectsPrivateRanges(t *testing.T) {
	tests := []string{
		"http://10.0.0.5/",
		"http://172.16.0.1/",
		"http://192.168.1.1/",
		"http://169.254.1.1/",
	}
	for _, u := range tests {
		if err := CheckURL(u); err == nil {
			t.Errorf("CheckURL(%q) = nil, want error", u)
		}
	}
}

func TestCheckURL_RejectsBadScheme(t *testing.T) {
	if err := CheckURL("ftp://example.com/"); err == nil {
		t.Error("expected error for non-http(s) scheme")
	}
}

func TestCheckURL_RejectsUnparseable(t *testing.T) {
	if err := CheckURL("://bad"); err == nil {
		t.Error("expected error for unparseable url")
	}
}

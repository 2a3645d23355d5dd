package varietyd

import "testing"

func TestValidateCapability(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"memory", false},
		{"vector-search", false},
		{"a2b", false},
		{"", true},
		{"Memory", true},
		{"mem ory", true},
		{"mem;rm -rf /", true},
		{"-leading", true},
		{"trailing-", true},
		{"double--hyphen", true},
	}
	for _, tt := range tests {
		err := ValidateCapability(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCapability(%q) err = %v, wantErr = %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"mcp-server-memory", false},
		{"@modelcontextprotocol/server-memory", false},
		{"lodash", false},
		{"some.pkg_name", false},
		{"", true},
		{"UPPER", true},
		{"pkg name", true},
		{"pkg;true", true},
		{"$(whoami)", true},
		{"../escape", true},
	}
	for _, tt := range tests {
		err := ValidatePackageName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePackageName(%q) err = %v, wantErr = %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"", false},
		{"latest", false},
		{"1.2.3", false},
		{"0.4.0-beta.1", false},
		{"^1.0.0", true},
		{">=2", true},
		{"1.2", true},
		{"latest; rm x", true},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateVersion(%q) err = %v, wantErr = %v", tt.version, err, tt.wantErr)
		}
	}
}

func TestNewGap(t *testing.T) {
	g, err := NewGap([]string{"memory", "memory", "search"}, SeverityHigh, "test")
	if err != nil {
		t.Fatalf("NewGap: %v", err)
	}
	if len(g.Capabilities) != 2 {
		t.Fatalf("capabilities = %v, want deduplicated to 2", g.Capabilities)
	}
	if g.ObservedAt.IsZero() {
		t.Fatal("ObservedAt not set")
	}

	if _, err := NewGap([]string{"memory"}, Severity("urgent"), "test"); err == nil {
		t.Fatal("invalid severity accepted")
	}
	if _, err := NewGap(nil, SeverityLow, "test"); err == nil {
		t.Fatal("empty capability list accepted")
	}
	if _, err := NewGap([]string{"Not Valid"}, SeverityLow, "test"); err == nil {
		t.Fatal("invalid capability name accepted")
	}
}

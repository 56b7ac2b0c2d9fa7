package types

import "testing"

func TestScreenshotRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ScreenshotRequest
		wantErr bool
	}{
		{"viewport default", ScreenshotRequest{Mode: ModeViewport}, false},
		{"full", ScreenshotRequest{Mode: ModeFull}, false},
		{"selector with value", ScreenshotRequest{Mode: ModeSelector, Selector: ".a"}, false},
		{"selector empty", ScreenshotRequest{Mode: ModeSelector}, true},
		{"xpath with value", ScreenshotRequest{Mode: ModeXpath, Xpath: "//a"}, false},
		{"xpath empty", ScreenshotRequest{Mode: ModeXpath}, true},
		{"unknown mode", ScreenshotRequest{Mode: "bogus"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidPNG(t *testing.T) {
	valid := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}
	if !IsValidPNG(valid) {
		t.Fatal("expected valid PNG magic to be recognized")
	}
	if IsValidPNG([]byte{0x89, 0x50}) {
		t.Fatal("expected short input to be rejected")
	}
	if IsValidPNG([]byte("not a png at all!")) {
		t.Fatal("expected non-PNG input to be rejected")
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	if cfg.MaxSize != 5 || cfg.MaxAgeSecs != 60 || cfg.MaxRecycleCount != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BrowserProgram != "firefox" {
		t.Fatalf("expected default browser program firefox, got %q", cfg.BrowserProgram)
	}
}

package scaffold

import (
	"os"
	"strings"
	"testing"
)

func TestCheckExisting(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func()
		wantErr   bool
		errMsg    string
	}{
		{
			name:      "no existing files",
			setupFunc: func() {},
			wantErr:   false,
		},
		{
			name: "existing place.yml",
			setupFunc: func() {
				os.WriteFile(ConfigFile, []byte("port: 5000\n"), 0644)
			},
			wantErr: true,
			errMsg:  "place init --force",
		},
		{
			name: "unrelated files are ignored",
			setupFunc: func() {
				os.WriteFile("notes.yml", []byte("title: canvas"), 0644)
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			tt.setupFunc()

			err := CheckExisting()
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckExisting() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("CheckExisting() error = %v, want it to mention %q", err, tt.errMsg)
			}
		})
	}
}

package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, Revision)

	assert.Contains(t, Short(), Version)
	assert.True(t, strings.HasPrefix(ShortWithApp(), AppName+" "))
	assert.Contains(t, Detailed(), "/")
	assert.True(t, strings.HasPrefix(DetailedWithApp(), AppName+" "))
	assert.True(t, strings.HasPrefix(UserAgent(), AppName+"/"))
}

func TestApplyBuildInfo(t *testing.T) {
	origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
	})

	tests := []struct {
		name         string
		version      string
		revision     string
		mainVersion  string
		settings     map[string]string
		wantVersion  string
		wantRevision string
		wantDate     string
	}{
		{
			name:        "defaults are replaced",
			version:     devVersion,
			revision:    "HEAD",
			mainVersion: "v1.2.3",
			settings: map[string]string{
				"vcs.revision": "abcdef1234567890",
				"vcs.modified": "true",
				"vcs.time":     "2026-01-02T15:04:05Z",
			},
			wantVersion:  "1.2.3",
			wantRevision: "abcdef123456-dirty",
			wantDate:     "2026-01-02T15:04:05Z",
		},
		{
			name:         "ldflags win",
			version:      "2.0.0",
			revision:     "cafebabe",
			mainVersion:  "v1.2.3",
			settings:     map[string]string{"vcs.revision": "abcdef"},
			wantVersion:  "2.0.0",
			wantRevision: "cafebabe",
		},
		{
			name:         "devel main module keeps dev version",
			version:      devVersion,
			revision:     "HEAD",
			mainVersion:  "(devel)",
			settings:     map[string]string{},
			wantVersion:  devVersion,
			wantRevision: "HEAD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version, Revision, BuildDate = tt.version, tt.revision, ""
			applyBuildInfo(tt.mainVersion, tt.settings)
			assert.Equal(t, tt.wantVersion, Version)
			assert.Equal(t, tt.wantRevision, Revision)
			assert.Equal(t, tt.wantDate, BuildDate)
		})
	}
}

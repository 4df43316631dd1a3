package ipinfo

import (
	"testing"

	"proxy-pool/pkg/models"
)

func TestUpdateRecordWithIPInfo(t *testing.T) {
	testCases := []struct {
		name       string
		existing   string
		info       IPInfoResponse
		wantRegion string
	}{
		{
			name:       "city and country",
			info:       IPInfoResponse{City: "Frankfurt", Country: "DE"},
			wantRegion: "Frankfurt, DE",
		},
		{
			name:       "country only",
			info:       IPInfoResponse{Country: "NL"},
			wantRegion: "NL",
		},
		{
			name:       "region fallback",
			info:       IPInfoResponse{Region: "California"},
			wantRegion: "California",
		},
		{
			name:       "existing region kept",
			existing:   "US-East",
			info:       IPInfoResponse{City: "Ashburn", Country: "US"},
			wantRegion: "US-East",
		},
		{
			name:       "empty lookup",
			info:       IPInfoResponse{},
			wantRegion: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			record := models.ProxyRecord{GeographicRegion: tc.existing}
			UpdateRecordWithIPInfo(&record, tc.info)
			if record.GeographicRegion != tc.wantRegion {
				t.Errorf("GeographicRegion = %q, want %q", record.GeographicRegion, tc.wantRegion)
			}
		})
	}
}
